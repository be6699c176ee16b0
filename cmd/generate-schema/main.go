// Command generate-schema writes the JSON schema of the dittostore
// configuration file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/marmos91/dittostore/pkg/config"
)

func main() {
	output := flag.String("o", "config.schema.json", "output file")
	flag.Parse()

	if err := run(*output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("JSON schema written to %s\n", *output)
}

func run(output string) error {
	// Field names follow the keys viper decodes, not the Go names
	reflector := jsonschema.Reflector{
		FieldNameTag:              "mapstructure",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "dittostore Configuration"
	schema.Description = "Configuration schema for the dittostore engine and CLI"
	schema.Version = "1.0.0"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	return os.WriteFile(output, append(data, '\n'), 0644)
}
