package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"claw-companion/backend/internal/document"
	"claw-companion/backend/internal/models"

	"github.com/spf13/cobra"
)

const maxConflictRetries = 3

// NewDocCommand groups the dashboard document commands.
func NewDocCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Read and edit dashboard documents",
	}
	cmd.AddCommand(newDocGetCommand(opts))
	cmd.AddCommand(newDocInitCommand(opts))

	item := &cobra.Command{Use: "item", Short: "Edit dashboard items"}
	item.AddCommand(newItemAddCommand(opts))
	item.AddCommand(newItemDoneCommand(opts))
	cmd.AddCommand(item)

	note := &cobra.Command{Use: "note", Short: "Edit dashboard notes"}
	note.AddCommand(newNoteAddCommand(opts))
	cmd.AddCommand(note)

	rule := &cobra.Command{Use: "rule", Short: "Edit dashboard rules"}
	rule.AddCommand(newRuleToggleCommand(opts))
	cmd.AddCommand(rule)

	return cmd
}

func docPath(owner string) string {
	return "/api/v1/documents/" + url.PathEscape(owner)
}

func getDocument(ctx context.Context, c *apiClient, owner string) (*document.Document, error) {
	var doc document.Document
	if err := c.do(ctx, http.MethodGet, docPath(owner), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// mutateDocument reads the current version, sends the write built for it
// and starts over when another writer got there first
func mutateDocument(ctx context.Context, c *apiClient, owner string, write func(version int64) (method, path string, body interface{})) (*document.Document, error) {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		current, err := getDocument(ctx, c, owner)
		if err != nil {
			return nil, err
		}
		method, path, body := write(current.Version)
		var doc document.Document
		err = c.do(ctx, method, path, body, &doc)
		if err == nil {
			return &doc, nil
		}
		if !IsVersionConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("gave up after %d conflicting writes: %w", maxConflictRetries, lastErr)
}

func printDocument(w io.Writer, doc *document.Document) {
	printf(w, "%s  version %d\n", doc.OwnerID, doc.Version)
	lists := []struct {
		name  string
		items []models.MissionItem
	}{
		{"todo", doc.Payload.TodoList},
		{"mission", doc.Payload.MissionList},
		{"done", doc.Payload.DoneList},
	}
	for _, l := range lists {
		printf(w, "\n%s (%d)\n", l.name, len(l.items))
		for _, it := range l.items {
			printf(w, "  %-36s p%d %-11s %s  %s by %s\n",
				it.ID, it.Priority, it.Status, truncate(it.Title, 40), agoMillis(it.UpdatedAt), it.UpdatedBy)
		}
	}
	if len(doc.Payload.Notes) > 0 {
		printf(w, "\nnotes (%d)\n", len(doc.Payload.Notes))
		for _, n := range doc.Payload.Notes {
			printf(w, "  %-36s [%s] %s\n", n.ID, n.Category, truncate(n.Title, 50))
		}
	}
	if len(doc.Payload.Rules) > 0 {
		printf(w, "\nrules (%d)\n", len(doc.Payload.Rules))
		for _, r := range doc.Payload.Rules {
			state := "off"
			if r.Enabled {
				state = "on"
			}
			printf(w, "  %-36s %-3s %-13s %s\n", r.ID, state, r.RuleType, truncate(r.Name, 40))
		}
	}
}

func docResult(cmd *cobra.Command, opts *RootOptions, doc *document.Document) error {
	return emit(cmd, opts, doc, func(w io.Writer) { printDocument(w, doc) })
}

func newDocGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <owner>",
		Short: "Show a dashboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			doc, err := getDocument(ctx, newAPIClient(opts), args[0])
			if err != nil {
				return err
			}
			return docResult(cmd, opts, doc)
		},
	}
}

func newDocInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init <owner>",
		Short: "Create an empty dashboard at version 1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			var doc document.Document
			if err := newAPIClient(opts).do(ctx, http.MethodPost, docPath(args[0]), nil, &doc); err != nil {
				return err
			}
			return docResult(cmd, opts, &doc)
		},
	}
}

func newItemAddCommand(opts *RootOptions) *cobra.Command {
	var (
		list        string
		priority    int
		description string
		bot         string
	)
	cmd := &cobra.Command{
		Use:   "add <owner> <title>",
		Short: "Add an item to a list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			item := map[string]interface{}{"title": args[1], "priority": priority}
			if description != "" {
				item["description"] = description
			}
			if bot != "" {
				item["assignedBot"] = bot
			}
			doc, err := mutateDocument(ctx, newAPIClient(opts), args[0], func(v int64) (string, string, interface{}) {
				return http.MethodPost, docPath(args[0]) + "/items", map[string]interface{}{
					"expectedVersion": v,
					"list":            list,
					"item":            item,
				}
			})
			if err != nil {
				return err
			}
			return docResult(cmd, opts, doc)
		},
	}
	cmd.Flags().StringVar(&list, "list", string(models.ListTodo), "target list (todo|mission|done)")
	cmd.Flags().IntVar(&priority, "priority", int(models.PriorityMedium), "priority 1-4")
	cmd.Flags().StringVar(&description, "description", "", "item description")
	cmd.Flags().StringVar(&bot, "bot", "", "assigned bot")
	return cmd
}

func newItemDoneCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "done <owner> <item-id>",
		Short: "Move an item to the done list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			doc, err := mutateDocument(ctx, newAPIClient(opts), args[0], func(v int64) (string, string, interface{}) {
				return http.MethodPatch, docPath(args[0]) + "/items/" + url.PathEscape(args[1]), map[string]interface{}{
					"expectedVersion": v,
					"moveTo":          models.ListDone,
				}
			})
			if err != nil {
				return err
			}
			return docResult(cmd, opts, doc)
		},
	}
}

func newNoteAddCommand(opts *RootOptions) *cobra.Command {
	var content, category string
	cmd := &cobra.Command{
		Use:   "add <owner> <title>",
		Short: "Add a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			note := models.MissionNote{Title: args[1], Content: content, Category: category}
			doc, err := mutateDocument(ctx, newAPIClient(opts), args[0], func(v int64) (string, string, interface{}) {
				return http.MethodPost, docPath(args[0]) + "/notes", map[string]interface{}{
					"expectedVersion": v,
					"note":            note,
				}
			})
			if err != nil {
				return err
			}
			return docResult(cmd, opts, doc)
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "note body")
	cmd.Flags().StringVar(&category, "category", "general", "note category")
	return cmd
}

func newRuleToggleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <owner> <rule-id>",
		Short: "Flip a rule on or off",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			doc, err := mutateDocument(ctx, newAPIClient(opts), args[0], func(v int64) (string, string, interface{}) {
				return http.MethodPatch, docPath(args[0]) + "/rules/" + url.PathEscape(args[1]), map[string]interface{}{
					"expectedVersion": v,
					"toggle":          true,
				}
			})
			if err != nil {
				return err
			}
			return docResult(cmd, opts, doc)
		},
	}
}
