package modbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// metaDataSchema is what every plugin metadata block must satisfy.
const metaDataSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["Key"],
	"properties": {
		"Key": {"type": "string", "minLength": 1}
	}
}`

var compiledMetaDataSchema = mustCompileSchema(metaDataSchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
	if err != nil {
		panic(fmt.Sprintf("modbus: metadata schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("metadata.json", doc); err != nil {
		panic(fmt.Sprintf("modbus: metadata schema: %v", err))
	}
	sch, err := c.Compile("metadata.json")
	if err != nil {
		panic(fmt.Sprintf("modbus: metadata schema: %v", err))
	}
	return sch
}

// validateMetaData round-trips meta through JSON so values of any Go numeric
// type validate the same way as decoded manifests.
func validateMetaData(meta MetaData) error {
	content, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return compiledMetaDataSchema.Validate(inst)
}

// PluginRecord is the registry's view of one plugin.
type PluginRecord struct {
	ID        string
	MetaData  MetaData
	LoadIndex int
	Factory   Factory // nil until resolved

	attempted bool
	err       error
}

// discover builds the initial record set from everything the loader offers.
// Empty or invalid metadata is skipped; a repeated Key replaces the earlier
// record. The returned Loader resolves the recorded load indexes.
func discover(loader Loader, logger io.Writer) (map[string]*PluginRecord, Loader) {
	records := make(map[string]*PluginRecord)
	if loader == nil {
		return records, nil
	}
	candidates, pinned := pinLoader(loader)
	for i, meta := range candidates {
		if len(meta) == 0 {
			logf(logger, LevelDebug, "modbus: skipping plugin candidate %d without metadata", i)
			continue
		}
		if err := validateMetaData(meta); err != nil {
			logf(logger, LevelWarning, "modbus: skipping plugin candidate %d with invalid metadata: %v", i, err)
			continue
		}
		id := meta.Key()
		if prev, ok := records[id]; ok {
			logf(logger, LevelDebug, "modbus: plugin %q at index %d replaces index %d", id, i, prev.LoadIndex)
		}
		records[id] = &PluginRecord{
			ID:        id,
			MetaData:  maps.Clone(meta),
			LoadIndex: i,
		}
		logf(logger, LevelDebug, "modbus: discovered plugin %q (index %d)", id, i)
	}
	return records, pinned
}
