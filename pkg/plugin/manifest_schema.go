package plugin

// ManifestSchema is the JSON schema every manifest document must
// satisfy before field-level validation runs.
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Plugin Manifest",
  "type": "object",
  "required": ["id", "name", "version", "requires"],
  "additionalProperties": false,
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-z0-9-]+$",
      "minLength": 1,
      "maxLength": 64
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 128
    },
    "version": {
      "type": "string",
      "pattern": "^\\d+\\.\\d+\\.\\d+$"
    },
    "description": {
      "type": "string",
      "maxLength": 1024
    },
    "requires": {
      "type": "object",
      "required": ["apiVersion"],
      "additionalProperties": false,
      "properties": {
        "apiVersion": {
          "type": "string",
          "minLength": 1
        }
      }
    },
    "capabilities": {
      "type": "array",
      "items": {
        "type": "string"
      },
      "uniqueItems": true
    }
  }
}`
