package auth

import "github.com/invopop/jsonschema"

// ConfigSchema reflects Config into a JSON Schema, for validating
// configuration files before they reach the process.
func ConfigSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		// Every field has a default, so none is required.
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(new(Config))
	s.Title = "Bearer token validation config"
	return s
}
