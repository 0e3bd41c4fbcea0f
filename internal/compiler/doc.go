// Package compiler turns CUE component declarations into ir.ComponentSpec
// values and installs them into an engine.System as template handlers.
//
// A declaration looks like:
//
//	component: fridge: {
//	    data: { isOpen: false, food: [] }
//	    events: ["OPENED_FRIDGE"]
//	    on: OPENED_FRIDGE: {
//	        update: { isOpen: true }
//	        remove: { food: "${payload.food}" }
//	        send: [{ component: "person", event: "FOOD_FOUND",
//	                 data: { instanceId: "${payload.personId}", food: "${payload.food}" } }]
//	    }
//	}
//
// Validate checks a set of specs against each other, AnalyzeCycles reports
// event cascades that can feed themselves.
package compiler
