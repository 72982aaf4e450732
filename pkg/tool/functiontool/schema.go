// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package functiontool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema reflects a JSON schema for T from its struct tags.
//
// Supported tags:
//   - json:"name" and json:",omitempty" for naming and optionality
//   - jsonschema:"required" to mark required fields
//   - jsonschema:"description=...,default=...,enum=a|b,minimum=N,maximum=M"
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	// Round-trip through JSON so nested jsonschema types become plain maps.
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	// Model APIs reject metadata keywords in parameter schemas.
	delete(out, "$schema")
	delete(out, "$id")

	return out, nil
}

// decodeArgs converts the model's argument map into the typed struct via a
// JSON round-trip, which applies the same coercions the schema promises.
func decodeArgs(args map[string]any, target any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return nil
}
