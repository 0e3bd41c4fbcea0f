package compiler

import (
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/ir"
)

func TestCompileComponentBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		component: fridge: {
			parent: "household"
			children: ["shelf"]
			data: { isOpen: false, food: ["pizza"], temp: 4 }
			events: ["OPENED_FRIDGE", "CLOSED_FRIDGE"]
			stop_propagation: ["CLOSED_FRIDGE"]

			on: OPENED_FRIDGE: {
				update: { isOpen: true }
				remove: { food: "${payload.food}" }
				send: [{ component: "person", event: "FOOD_FOUND", data: { instanceId: "${payload.personId}" } }]
			}
			on: CLOSED_FRIDGE: update: isOpen: false
		}
	`)
	require.NoError(t, v.Err())

	spec, err := CompileComponent(v.LookupPath(cue.ParsePath("component.fridge")))
	require.NoError(t, err)

	assert.Equal(t, "fridge", spec.Name)
	assert.Equal(t, "household", spec.Parent)
	assert.Equal(t, []string{"shelf"}, spec.Children)
	assert.Equal(t, ir.Object{
		"isOpen": ir.Bool(false),
		"food":   ir.Strings("pizza"),
		"temp":   ir.Int(4),
	}, spec.Data)
	assert.Equal(t, []string{"OPENED_FRIDGE", "CLOSED_FRIDGE"}, spec.Events)
	assert.Equal(t, []string{"CLOSED_FRIDGE"}, spec.StopPropagation)

	require.Len(t, spec.Handlers, 2)
	opened := spec.Handlers[0]
	assert.Equal(t, "OPENED_FRIDGE", opened.Event, "declaration order is kept")
	assert.Equal(t, ir.Object{"isOpen": ir.Bool(true)}, opened.Update)
	assert.Equal(t, ir.Object{"food": ir.String("${payload.food}")}, opened.Remove)
	require.Len(t, opened.Send, 1)
	assert.Equal(t, ir.SendSpec{
		Component: "person",
		Event:     "FOOD_FOUND",
		Data:      ir.Object{"instanceId": ir.String("${payload.personId}")},
	}, opened.Send[0])

	closed := spec.Handlers[1]
	assert.Nil(t, closed.Send, "absent send clause stays nil")
}

func TestCompileComponentExplicitEmptySend(t *testing.T) {
	specs, err := CompileString(`
		component: person: on: FOOD_FOUND: {
			update: isHungry: false
			send: []
		}
	`)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	h := specs[0].Handlers[0]
	assert.NotNil(t, h.Send)
	assert.Empty(t, h.Send)
	assert.Equal(t, ir.Object{}, specs[0].Data, "missing data block compiles to empty record")
}

func TestCompileComponentRejectsFloats(t *testing.T) {
	_, err := CompileString(`
		component: car: data: { speed: 1.5 }
	`)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "data.speed", ce.Field)
	assert.Contains(t, ce.Message, "floats")
}

func TestCompileComponentRejectsIncompleteData(t *testing.T) {
	_, err := CompileString(`
		component: car: data: { model: string }
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concrete")
}

func TestCompileComponentSendNeedsEvent(t *testing.T) {
	_, err := CompileString(`
		component: car: on: HONK: send: [{ component: "car" }]
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on.HONK.send[0].event")
}

func TestCompileComponentBadParentType(t *testing.T) {
	_, err := CompileString(`
		component: car: parent: 3
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parent")
}

func TestCompileStringSyntaxError(t *testing.T) {
	_, err := CompileString(`component: car: {`)
	require.Error(t, err)
}

func TestCompileAllPreservesOrder(t *testing.T) {
	specs, err := CompileString(`
		component: zeta: data: {}
		component: alpha: data: {}
		component: mid: data: {}
	`)
	require.NoError(t, err)

	var names []string
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestCompileAllWithoutComponents(t *testing.T) {
	specs, err := CompileString(`other: 1`)
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestLoadDirKitchen(t *testing.T) {
	specs, err := LoadDir(filepath.Join("..", "..", "testdata", "specs"))
	require.NoError(t, err)

	var names []string
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"person", "fridge", "household"}, names)
	assert.Empty(t, Validate(specs))
	assert.Empty(t, AnalyzeCycles(specs))
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "data.x", Message: "bad"}
	assert.Equal(t, "data.x: bad", err.Error())
}
