package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/approvia/approvia/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// chainDefinitionSchema is the JSON Schema every chain definition file must
// satisfy before semantic validation runs.
const chainDefinitionSchema = `{
  "type": "object",
  "required": ["id", "name", "sections"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 3},
    "sections": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["order", "kind", "name"],
        "properties": {
          "order": {"type": "integer", "minimum": 0},
          "kind": {"type": "string", "enum": ["form", "approval"]},
          "name": {"type": "string", "minLength": 1},
          "hard_fork": {"type": "boolean"},
          "template_ref": {"type": "string"},
          "steps": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["step_number", "approver_role"],
              "properties": {
                "step_number": {"type": "integer", "minimum": 1},
                "approver_role": {
                  "type": "object",
                  "required": ["role", "scope"],
                  "properties": {
                    "role": {"type": "string", "minLength": 1},
                    "scope": {"type": "string", "enum": ["org", "business_unit"]}
                  }
                }
              }
            }
          },
          "initiator_roles": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["role", "scope"],
              "properties": {
                "role": {"type": "string", "minLength": 1},
                "scope": {"type": "string", "enum": ["org", "business_unit"]}
              }
            }
          }
        }
      }
    }
  }
}`

// ParseChainDefinition validates raw JSON against the chain definition schema
// and decodes it. Structural schema failures and semantic invariant failures
// are both reported as ConfigurationError.
func ParseChainDefinition(data []byte) (*models.Chain, error) {
	schemaLoader := gojsonschema.NewStringLoader(chainDefinitionSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, &ConfigurationError{Detail: fmt.Sprintf("chain definition is not valid JSON: %v", err)}
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, &ConfigurationError{Detail: "schema violations: " + strings.Join(details, "; ")}
	}

	var chain models.Chain
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, &ConfigurationError{Detail: fmt.Sprintf("failed to decode chain definition: %v", err)}
	}

	if err := ValidateChain(&chain); err != nil {
		return nil, err
	}

	return &chain, nil
}

// LoadDirectory admits every *.json chain definition under dir into the
// store. Any invalid definition aborts the load; a partially admitted
// directory is acceptable because chain versions are immutable and additive.
func LoadDirectory(ctx context.Context, logger *slog.Logger, store ChainStore, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read chain definition directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read chain definition %s: %w", path, err)
		}

		chain, err := ParseChainDefinition(data)
		if err != nil {
			return fmt.Errorf("chain definition %s rejected: %w", path, err)
		}

		stored, err := store.PutChain(ctx, chain)
		if err != nil {
			return fmt.Errorf("failed to admit chain definition %s: %w", path, err)
		}

		logger.Info("Chain definition loaded",
			"chain_id", stored.ID,
			"version", stored.Version,
			"sections", stored.SectionCount())
	}

	return nil
}
