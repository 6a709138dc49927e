package vault

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// cookieJarSchemaJSON validates a decrypted site cookie jar: a document
// holding the cookies captured from one site's authenticated session.
const cookieJarSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["cookies"],
  "properties": {
    "cookies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "value"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "value": {"type": "string"},
          "domain": {"type": "string"},
          "path": {"type": "string"},
          "expires": {"type": "number"},
          "secure": {"type": "boolean"},
          "http_only": {"type": "boolean"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// credentialPairSchemaJSON validates a decrypted credential pair document.
// Both fields are nullable; extra fields mark the document as corrupt.
const credentialPairSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "username": {"type": ["string", "null"]},
    "api_key": {"type": ["string", "null"]}
  },
  "additionalProperties": false
}`

var (
	cookieJarSchema      = mustCompileSchema("cookie-jar.json", cookieJarSchemaJSON)
	credentialPairSchema = mustCompileSchema("credential-pair.json", credentialPairSchemaJSON)
)

// mustCompileSchema compiles an embedded schema document once at package
// initialization. The schemas are constants, so a failure is a programming
// error.
func mustCompileSchema(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("unmarshal schema %s: %v", name, err))
	}

	url := "vault://schemas/" + name
	if err := compiler.AddResource(url, doc); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}

	return schema
}

// validateJSON validates a JSON payload against a compiled schema. The
// payload is decoded with jsonschema.UnmarshalJSON so numbers keep the
// representation the validator expects.
func validateJSON(schema *jsonschema.Schema, payload []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload failed schema validation: %w", err)
	}

	return nil
}
