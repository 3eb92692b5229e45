package tools

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-memoir/pkg/memory"
)

const (
	msgStoreFailure = "Something went wrong while accessing memories. Please apologize and try again."
	msgRateLimited  = "Too many memory requests at once. Please slow down and try again in a moment."
)

func formatSaved(rec memory.Record) string {
	return fmt.Sprintf("Memory %q saved successfully.", rec.Title)
}

func formatParamError(err *ParamError) string {
	switch err.Tool {
	case ToolSaveMemory:
		return fmt.Sprintf("Cannot save memory: %s.", err.Message)
	case ToolRetrieveMemory:
		return fmt.Sprintf("Cannot search memories: %s.", err.Message)
	case ToolGetMemoryDetails:
		return fmt.Sprintf("Cannot load memory details: %s.", err.Message)
	default:
		return fmt.Sprintf("Cannot run %s: %s.", err.Tool, err.Message)
	}
}

func formatUnknown(name string) string {
	return fmt.Sprintf("Unknown tool %q.", name)
}

func formatSummaries(query string, recs []memory.Record) string {
	if len(recs) == 0 {
		if query == "" {
			return "No memories found."
		}
		return fmt.Sprintf("No memories found matching %q.", query)
	}
	var b strings.Builder
	noun := "memories"
	if len(recs) == 1 {
		noun = "memory"
	}
	fmt.Fprintf(&b, "Found %d %s:", len(recs), noun)
	for i, rec := range recs {
		fmt.Fprintf(&b, "\n%d. %s (id: %s, %s)", i+1, rec.Title, rec.ID, dateLabel(rec))
	}
	return b.String()
}

func formatDetails(rec memory.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", rec.Title)
	if rec.OccurredOn != nil {
		fmt.Fprintf(&b, "Date: %s\n", rec.OccurredOn.String())
	} else {
		b.WriteString("Date: unknown\n")
	}
	if rec.Location != nil {
		fmt.Fprintf(&b, "Location: %s\n", *rec.Location)
	} else {
		b.WriteString("Location: not recorded\n")
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(rec.Tags, ", "))
	} else {
		b.WriteString("Tags: none\n")
	}
	fmt.Fprintf(&b, "Content: %s", rec.Content)
	return b.String()
}

func formatNotFound(id string) string {
	return fmt.Sprintf("No memory found with id %q.", id)
}

func dateLabel(rec memory.Record) string {
	if rec.OccurredOn == nil {
		return "no date"
	}
	return "date: " + rec.OccurredOn.String()
}
