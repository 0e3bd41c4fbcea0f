package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/ir"
)

func TestComponent_CreateInstance_MergesDataModel(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", ir.Object{
		"isHungry":       ir.Bool(false),
		"movementMethod": ir.String("walking"),
	}, "")

	inst := mustInstance(t, person, "alice", ir.Object{"name": ir.String("Alice"), "isHungry": ir.Bool(true)})

	assert.Equal(t, "person", inst.Component)
	assert.Equal(t, "alice", inst.ID)
	assert.Equal(t, ir.Object{
		"name":           ir.String("Alice"),
		"isHungry":       ir.Bool(true),
		"movementMethod": ir.String("walking"),
	}, inst.Data)
}

func TestComponent_CreateInstance_NilData(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", ir.Object{"food": ir.Array{}}, "")

	inst := mustInstance(t, person, "alice", nil)
	assert.Equal(t, ir.Object{"food": ir.Array{}}, inst.Data)
}

func TestComponent_CreateInstance_DoesNotShareDataModel(t *testing.T) {
	sys, _ := newTestSystem(t)
	fridge := mustComponent(t, sys, "fridge", ir.Object{"food": ir.Strings("pizza")}, "")
	mustInstance(t, fridge, "a", nil)
	mustInstance(t, fridge, "b", nil)

	require.NoError(t, fridge.UpdateInstance("a", ir.Object{"food": ir.Array{}}))

	assert.Equal(t, ir.Strings("pizza"), mustData(t, fridge, "b")["food"])
	assert.Equal(t, ir.Strings("pizza"), fridge.DataModel()["food"])
}

func TestComponent_CreateInstance_DuplicateRejected(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", nil, "")
	mustInstance(t, person, "alice", ir.Object{"age": ir.Int(20)})

	_, err := person.CreateInstance("alice", ir.Object{"age": ir.Int(99)})
	require.ErrorIs(t, err, ErrDuplicateInstance)

	assert.Equal(t, ir.Int(20), mustData(t, person, "alice")["age"], "original record untouched")
	assert.Equal(t, 1, person.InstanceCount())
}

func TestComponent_CreateInstance_EmptyID(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", nil, "")

	_, err := person.CreateInstance("", nil)
	assert.ErrorIs(t, err, ErrInvalidInstanceID)
}

func TestComponent_InstanceIDs_CreationOrder(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", nil, "")
	for _, id := range []string{"carol", "alice", "bob"} {
		mustInstance(t, person, id, nil)
	}

	assert.Equal(t, []string{"carol", "alice", "bob"}, person.InstanceIDs())
	assert.Equal(t, 3, person.InstanceCount())
	assert.True(t, person.HasInstance("bob"))
	assert.False(t, person.HasInstance("dave"))

	var ids []string
	for _, inst := range person.Instances() {
		ids = append(ids, inst.ID)
	}
	assert.Equal(t, []string{"carol", "alice", "bob"}, ids)
}

func TestComponent_Instance_ReturnsCopy(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", nil, "")
	mustInstance(t, person, "alice", ir.Object{"food": ir.Strings("pizza")})

	inst, _ := person.Instance("alice")
	inst.Data["food"].(ir.Array)[0] = ir.String("tampered")
	inst.Data["extra"] = ir.Bool(true)

	assert.Equal(t, ir.Object{"food": ir.Strings("pizza")}, mustData(t, person, "alice"))
}

func TestComponent_UpdateInstance_MergeNotReplace(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", nil, "")
	mustInstance(t, person, "alice", ir.Object{
		"name":           ir.String("Alice"),
		"age":            ir.Int(20),
		"isHungry":       ir.Bool(false),
		"movementMethod": ir.String("walking"),
	})

	require.NoError(t, person.UpdateInstance("alice", ir.Object{"age": ir.Int(30)}))

	assert.Equal(t, ir.Object{
		"name":           ir.String("Alice"),
		"age":            ir.Int(30),
		"isHungry":       ir.Bool(false),
		"movementMethod": ir.String("walking"),
	}, mustData(t, person, "alice"))
}

func TestComponent_UpdateInstance_Missing(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", nil, "")

	err := person.UpdateInstance("ghost", ir.Object{"age": ir.Int(1)})
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestComponent_ClearInstances(t *testing.T) {
	sys, _ := newTestSystem(t)
	room := mustComponent(t, sys, "room", nil, "")
	person := mustComponent(t, sys, "person", nil, "room")
	mustInstance(t, room, "kitchen", nil)
	mustInstance(t, person, "alice", nil, WithParent("kitchen"))

	room.ClearInstances()

	assert.Equal(t, 0, room.InstanceCount())
	assert.Empty(t, room.InstanceIDs())
	alice, ok := person.Instance("alice")
	require.True(t, ok, "children are not removed with their parent")
	assert.Empty(t, alice.ParentID)

	mustInstance(t, room, "kitchen", nil)
	assert.Equal(t, 1, room.InstanceCount(), "ids are reusable without a validation context")
}

func TestComponent_On_OverwritesHandler(t *testing.T) {
	sys, rec := newTestSystem(t)
	person := mustComponent(t, sys, "person", nil, "")
	mustInstance(t, person, "alice", nil)

	person.On("GREET", Const(Update(ir.Object{"greeting": ir.String("first")})))
	person.On("WAVE", Const(Result{}))
	person.On("GREET", Const(Update(ir.Object{"greeting": ir.String("second")})))

	assert.Equal(t, []string{"GREET", "WAVE"}, person.RegisteredEventNames())

	sys.QueueEvent("person", "alice", "GREET", nil)
	drain(t, sys)

	assert.Equal(t, ir.String("second"), mustData(t, person, "alice")["greeting"])
	assert.Len(t, rec.Records(), 1)
}

func TestComponent_EventHandler(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", nil, "")

	_, ok := person.EventHandler("GREET")
	assert.False(t, ok)

	person.On("GREET", func(context.Context, Call) (Result, error) { return Result{}, nil })
	h, ok := person.EventHandler("GREET")
	assert.True(t, ok)
	assert.NotNil(t, h)
}

func TestComponent_CreateInstanceInOrder(t *testing.T) {
	order := []string{"system", "parent", "child"}

	t.Run("child before parent fails", func(t *testing.T) {
		sys, _ := newTestSystem(t)
		mustComponent(t, sys, "system", nil, "")
		mustComponent(t, sys, "parent", nil, "system")
		child := mustComponent(t, sys, "child", nil, "parent")

		_, err := child.CreateInstanceInOrder("c1", nil, order)
		require.ErrorIs(t, err, ErrCreationOrder)
		assert.Equal(t, 0, child.InstanceCount())
	})

	t.Run("parent then child succeeds", func(t *testing.T) {
		sys, _ := newTestSystem(t)
		system := mustComponent(t, sys, "system", nil, "")
		parent := mustComponent(t, sys, "parent", nil, "system")
		child := mustComponent(t, sys, "child", nil, "parent")

		_, err := system.CreateInstanceInOrder("s1", nil, order)
		require.NoError(t, err)
		_, err = parent.CreateInstanceInOrder("p1", nil, order)
		require.NoError(t, err)
		inst, err := child.CreateInstanceInOrder("c1", nil, order, WithParent("p1"))
		require.NoError(t, err)
		assert.Equal(t, "p1", inst.ParentID)
	})

	t.Run("ancestor after descendant fails", func(t *testing.T) {
		sys, _ := newTestSystem(t)
		system := mustComponent(t, sys, "system", nil, "")
		parent := mustComponent(t, sys, "parent", nil, "system")
		child := mustComponent(t, sys, "child", nil, "parent")

		_, err := system.CreateInstanceInOrder("s1", nil, order)
		require.NoError(t, err)
		_, err = parent.CreateInstanceInOrder("p1", nil, order)
		require.NoError(t, err)
		_, err = child.CreateInstanceInOrder("c1", nil, order)
		require.NoError(t, err)

		_, err = parent.CreateInstanceInOrder("p2", nil, order)
		assert.ErrorIs(t, err, ErrCreationOrder)
		_, err = system.CreateInstanceInOrder("s2", nil, order)
		assert.ErrorIs(t, err, ErrCreationOrder)
	})

	t.Run("component missing from order fails", func(t *testing.T) {
		sys, _ := newTestSystem(t)
		stray := mustComponent(t, sys, "stray", nil, "")

		_, err := stray.CreateInstanceInOrder("x", nil, order)
		assert.ErrorIs(t, err, ErrCreationOrder)
	})
}

func TestComponent_StopPropagation(t *testing.T) {
	sys, _ := newTestSystem(t)
	person := mustComponent(t, sys, "person", nil, "room")

	assert.True(t, person.Propagates("WAVE"))
	person.StopPropagation("WAVE", "SHOUT")
	assert.False(t, person.Propagates("WAVE"))
	assert.False(t, person.Propagates("SHOUT"))
	assert.True(t, person.Propagates("SIT"))
}

func TestValidationContext_RejectsReusedIDs(t *testing.T) {
	vctx := NewValidationContext()
	sys, _ := newTestSystem(t, WithValidation(vctx))
	person := mustComponent(t, sys, "person", nil, "")
	mustInstance(t, person, "alice", nil)

	person.ClearInstances()

	_, err := person.CreateInstance("alice", nil)
	require.ErrorIs(t, err, ErrDuplicateID)
	assert.True(t, vctx.Used(ir.InstanceRef{Component: "person", ID: "alice"}))

	vctx.Reset()
	mustInstance(t, person, "alice", nil)
}

func TestValidationContext_ScopedPerRun(t *testing.T) {
	first := NewValidationContext()
	second := NewValidationContext()

	sysA, _ := newTestSystem(t, WithValidation(first))
	sysB, _ := newTestSystem(t, WithValidation(second))
	mustInstance(t, mustComponent(t, sysA, "person", nil, ""), "alice", nil)
	mustInstance(t, mustComponent(t, sysB, "person", nil, ""), "alice", nil)

	assert.False(t, second.Used(ir.InstanceRef{Component: "person", ID: "bob"}))
}
