package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"schema-mapper/internal/assembly"
	"schema-mapper/internal/domain"
)

// MappingGenerator proposes field mappings between many source tables and one
// target table using the continuation protocol.
type MappingGenerator struct {
	driver *assembly.Driver
	logger *slog.Logger
}

func NewMappingGenerator(driver *assembly.Driver, logger *slog.Logger) (*MappingGenerator, error) {
	if driver == nil {
		return nil, errors.New("usecase: driver must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MappingGenerator{driver: driver, logger: logger}, nil
}

// Generate returns the proposed mappings. Completion failures are returned as
// *assembly.ServiceError. An assembled payload that does not parse, never
// completes, or holds non-object elements is logged and yields an empty list.
func (g *MappingGenerator) Generate(ctx context.Context, sources []json.RawMessage, target domain.TableSchema) ([]domain.MappingRecord, error) {
	conv, err := buildMappingConversation(sources, target)
	if err != nil {
		return nil, err
	}

	result, err := g.driver.AssembleArray(ctx, string(domain.StageMapping), conv, mappingContinuePrompt)
	if err != nil {
		var asmErr *assembly.AssemblyError
		if errors.As(err, &asmErr) {
			g.logger.Error("mapping_assembly_failed", "kind", asmErr.Kind, "rounds", asmErr.Rounds, "err", err)
			return []domain.MappingRecord{}, nil
		}
		return nil, err
	}
	if result.EmptyRounds > 0 {
		g.logger.Warn("mapping_rounds_without_progress", "rounds", result.Rounds, "empty_rounds", result.EmptyRounds)
	}

	records, err := decodeMappings(result.Elements)
	if err != nil {
		g.logger.Error("mapping_shape_invalid", "rounds", result.Rounds, "err", err)
		return []domain.MappingRecord{}, nil
	}
	g.logger.Info("mapping_generated", "records", len(records), "rounds", result.Rounds)
	return records, nil
}

// decodeMappings keeps every element verbatim once all of them are objects.
// Field values are not type-checked.
func decodeMappings(elements []json.RawMessage) ([]domain.MappingRecord, error) {
	if err := assembly.RequireObjects(elements); err != nil {
		return nil, err
	}
	records := make([]domain.MappingRecord, 0, len(elements))
	for _, el := range elements {
		records = append(records, domain.MappingRecord(el))
	}
	return records, nil
}
