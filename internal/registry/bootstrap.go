package registry

import (
	"github.com/hqmotech/forwarder/internal/generator"
	"github.com/hqmotech/forwarder/internal/model"
)

// Bootstrap returns a registry populated with the built-in payload formats.
// Called once from main before any delivery occurs; integrations add their
// own formats before the scheduler starts.
func Bootstrap() *Registry {
	r := New()
	r.MustRegister(model.RepeaterKindCase, "case_json", "JSON", generator.CaseJSONGenerator{}, true)
	r.MustRegister(model.RepeaterKindForm, "form_json", "JSON", generator.FormJSONGenerator{}, true)
	r.MustRegister(model.RepeaterKindShortForm, "short_form_json", "Form stub JSON", generator.ShortFormJSONGenerator{}, true)
	r.MustRegister(model.RepeaterKindUser, "user_json", "JSON", generator.UserJSONGenerator{}, true)
	r.MustRegister(model.RepeaterKindLocation, "location_json", "JSON", generator.LocationJSONGenerator{}, true)
	return r
}
