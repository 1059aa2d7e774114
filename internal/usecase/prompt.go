package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"schema-mapper/internal/assembly"
	"schema-mapper/internal/domain"
)

const (
	mappingContinuePrompt = "Please continue generating the remaining field mappings."
	sqlContinuePrompt     = "Please continue generating the remaining SQL statements."
	maxMappingDisplayLen  = 50
)

func buildShortlistConversation(tableData string, targetDoc json.RawMessage) (assembly.Conversation, error) {
	target, err := prettyJSON(targetDoc)
	if err != nil {
		return assembly.Conversation{}, fmt.Errorf("usecase: render target document: %w", err)
	}
	return assembly.NewConversation(
		domain.ChatMessage{Role: domain.RoleSystem, Content: strings.Join([]string{
			"You are a database migration expert.",
			"Data must be mapped from many source tables into one target table.",
			"The source table structures come from an uploaded workbook, one sheet per table.",
			"The target table structure comes from an uploaded JSON document.",
		}, " ")},
		domain.ChatMessage{Role: domain.RoleUser, Content: "Table data:\n" + tableData},
		domain.ChatMessage{Role: domain.RoleUser, Content: "Target table data:\n" + target},
		domain.ChatMessage{Role: domain.RoleUser, Content: strings.Join([]string{
			"Task:",
			"1) Target analysis: read the target table and work out what each field means from its name and comment.",
			"2) Source analysis: read every sheet and work out what each source table and its fields mean.",
			"3) Relation analysis: predict every source table that may relate to the target table.",
			"4) Output: list the names of the roughly 10 most relevant source tables as JSON. Do not leave out any potential source table.",
			"",
			"Rules:",
			"- Output only the final JSON, without intermediate steps.",
			"- Use source table names exactly as they appear. Never invent table names.",
		}, "\n")},
	), nil
}

func buildMappingConversation(sources []json.RawMessage, target domain.TableSchema) (assembly.Conversation, error) {
	sourceText, err := prettyJSON(sources)
	if err != nil {
		return assembly.Conversation{}, fmt.Errorf("usecase: render source tables: %w", err)
	}
	targetText, err := prettyJSON(target)
	if err != nil {
		return assembly.Conversation{}, fmt.Errorf("usecase: render target table: %w", err)
	}
	return assembly.NewConversation(
		domain.ChatMessage{Role: domain.RoleSystem, Content: "You are a database migration expert. " +
			"Fields from many source tables must be mapped onto one target table."},
		domain.ChatMessage{Role: domain.RoleUser, Content: "Source table data:\n" + sourceText},
		domain.ChatMessage{Role: domain.RoleUser, Content: "Target table data:\n" + targetText},
		domain.ChatMessage{Role: domain.RoleUser, Content: strings.Join([]string{
			"Task:",
			"1) Field mapping analysis: using each source field name and comment, find the source field most likely to correspond to each target field.",
			"2) Mapping table: produce a mapping for every target field, shaped like this example:",
			"[",
			"  {",
			`    "sourceField": "field name",`,
			`    "sourceTable": "source table name",`,
			`    "targetField": "target field name",`,
			`    "targetTable": "target table name"`,
			"  },",
			"  ...",
			"]",
			"",
			"Rules:",
			"- Output only the final JSON, without intermediate steps.",
			"- Use source table names exactly as they appear. Never invent table names.",
			"- Do not leave out any field of the target table.",
		}, "\n")},
	), nil
}

func buildSQLConversation(mappings []domain.ApprovedMapping) assembly.Conversation {
	var b strings.Builder
	b.WriteString("Generate SQL statements from the following field mappings:\n\n")
	for _, m := range mappings {
		fmt.Fprintf(&b, "Source field: %s (table: %s) -> Target field: %s (table: %s)",
			truncateDisplay(m.Source.Field),
			truncateDisplay(m.Source.Table.Name),
			truncateDisplay(m.Target.Field),
			truncateDisplay(m.Target.Table.Name),
		)
		if rule := truncateDisplay(m.TransformationRule); rule != "" {
			fmt.Fprintf(&b, " (transformation rule: %s)", rule)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nWrite SQL INSERT statements for the mappings above.")

	return assembly.NewConversation(
		domain.ChatMessage{Role: domain.RoleSystem, Content: "You are a database migration expert. " +
			"SQL statements must be written from a list of field mappings."},
		domain.ChatMessage{Role: domain.RoleUser, Content: b.String()},
	)
}

// truncateDisplay caps s at maxMappingDisplayLen characters, marking the cut
// with "...".
func truncateDisplay(s string) string {
	if utf8.RuneCountInString(s) <= maxMappingDisplayLen {
		return s
	}
	return string([]rune(s)[:maxMappingDisplayLen]) + "..."
}

// prettyJSON indents v with four spaces and leaves non-ASCII and HTML
// characters unescaped so table names reach the model verbatim.
func prettyJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// stripSQLFence removes one leading ```sql (or bare ```) fence and one
// trailing ``` fence.
func stripSQLFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
