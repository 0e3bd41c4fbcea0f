package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/ir"
)

func TestSystem_CreateComponent(t *testing.T) {
	sys, _ := newTestSystem(t)

	c, err := sys.CreateComponent("person", ir.Object{"isHungry": ir.Bool(false)}, "")
	require.NoError(t, err)
	assert.Equal(t, "person", c.Name())
	assert.Equal(t, ir.Object{"isHungry": ir.Bool(false)}, c.DataModel())

	got, ok := sys.Component("person")
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = sys.Component("ghost")
	assert.False(t, ok)
}

func TestSystem_CreateComponent_Duplicate(t *testing.T) {
	sys, _ := newTestSystem(t)
	mustComponent(t, sys, "person", nil, "")

	_, err := sys.CreateComponent("person", nil, "")
	assert.ErrorIs(t, err, ErrDuplicateComponent)
}

func TestSystem_CreateComponent_EmptyName(t *testing.T) {
	sys, _ := newTestSystem(t)

	_, err := sys.CreateComponent("", nil, "")
	assert.Error(t, err)
}

func TestSystem_Components_RegistrationOrder(t *testing.T) {
	sys, _ := newTestSystem(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		mustComponent(t, sys, name, nil, "")
	}

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, sys.Components())
}

func TestSystem_DataModelIsCopied(t *testing.T) {
	sys, _ := newTestSystem(t)
	model := ir.Object{"food": ir.Strings("pizza")}
	c := mustComponent(t, sys, "fridge", model, "")

	model["food"] = ir.Strings("tampered")

	assert.Equal(t, ir.Strings("pizza"), c.DataModel()["food"])
}

func TestSystem_ParentChildTopology(t *testing.T) {
	sys, _ := newTestSystem(t)
	_, err := sys.CreateComponentWithChildren("house", nil, "", []string{"room"})
	require.NoError(t, err)
	room := mustComponent(t, sys, "room", nil, "")
	person := mustComponent(t, sys, "person", nil, "room")
	pet := mustComponent(t, sys, "pet", nil, "")
	pet.SetParent("room")

	house, _ := sys.Component("house")
	assert.Equal(t, "", house.Parent())
	assert.Equal(t, []string{"room"}, house.Children())

	assert.Equal(t, "house", room.Parent(), "derived from house's declared children")
	assert.Equal(t, []string{"person", "pet"}, room.Children(), "derived from declared parents")

	assert.Equal(t, "room", person.Parent())
	assert.Empty(t, person.Children())
}

func TestSystem_Descendants(t *testing.T) {
	sys, _ := newTestSystem(t)
	mustComponent(t, sys, "house", nil, "")
	mustComponent(t, sys, "room", nil, "house")
	mustComponent(t, sys, "garage", nil, "house")
	mustComponent(t, sys, "person", nil, "room")
	mustComponent(t, sys, "car", nil, "garage")

	got, err := sys.Descendants("house")
	require.NoError(t, err)
	assert.Equal(t, []string{"room", "garage", "person", "car"}, got, "breadth first")

	got, err = sys.Descendants("person")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = sys.Descendants("ghost")
	assert.ErrorIs(t, err, ErrComponentNotFound)
}

func TestSystem_Ancestors(t *testing.T) {
	sys, _ := newTestSystem(t)
	mustComponent(t, sys, "house", nil, "")
	mustComponent(t, sys, "room", nil, "house")
	mustComponent(t, sys, "person", nil, "room")

	got, err := sys.Ancestors("person")
	require.NoError(t, err)
	assert.Equal(t, []string{"room", "house"}, got)

	got, err = sys.Ancestors("house")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSystem_Ancestors_UnregisteredParentEndsChain(t *testing.T) {
	sys, _ := newTestSystem(t)
	mustComponent(t, sys, "person", nil, "room")

	got, err := sys.Ancestors("person")
	require.NoError(t, err)
	assert.Equal(t, []string{"room"}, got)
}

func TestSystem_TopologyCycleTerminates(t *testing.T) {
	sys, _ := newTestSystem(t)
	mustComponent(t, sys, "a", nil, "b")
	mustComponent(t, sys, "b", nil, "a")

	desc, err := sys.Descendants("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, desc)

	anc, err := sys.Ancestors("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, anc)
}
