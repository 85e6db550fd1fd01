package cli

import (
	"context"
	"io"
	"net/http"

	"claw-companion/backend/internal/reconcile"

	"github.com/spf13/cobra"
)

type syncStatus struct {
	State    reconcile.State       `json:"state"`
	Running  bool                  `json:"running"`
	LastPass *reconcile.PassResult `json:"lastPass,omitempty"`
}

type healthStatus struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Components map[string]healthComponent `json:"components"`
	WebSocket  map[string]int             `json:"websocket"`
}

type healthComponent struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewSyncCommand asks the daemon for an immediate reconciliation pass.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Trigger a reconciliation pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			var out struct {
				Accepted bool `json:"accepted"`
			}
			if err := newAPIClient(opts).do(ctx, http.MethodPost, "/api/v1/sync", nil, &out); err != nil {
				return err
			}
			return emit(cmd, opts, out, func(w io.Writer) {
				if out.Accepted {
					printf(w, "sync queued\n")
				} else {
					printf(w, "a sync is already queued\n")
				}
			})
		},
	}
}

// NewStatusCommand shows daemon health and the last pass.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and the last sync pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			client := newAPIClient(opts)

			var health healthStatus
			// 503 still carries a health body; only a transport failure is fatal
			if err := client.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
				if _, ok := err.(*APIError); !ok {
					return err
				}
				health.Status = "down"
			}
			var sync syncStatus
			if err := client.do(ctx, http.MethodGet, "/api/v1/sync", nil, &sync); err != nil {
				return err
			}

			out := struct {
				Health healthStatus `json:"health"`
				Sync   syncStatus   `json:"sync"`
			}{health, sync}
			return emit(cmd, opts, out, func(w io.Writer) {
				printf(w, "daemon     %s (version %s, up %s)\n", health.Status, health.Version, health.Uptime)
				for name, c := range health.Components {
					printf(w, "  %-9s %s %s\n", name, c.Status, c.Message)
				}
				if n, ok := health.WebSocket["active_connections"]; ok {
					printf(w, "renderers  %d connected\n", n)
				}
				printf(w, "sync       %s", sync.State)
				if sync.Running {
					printf(w, " (running)")
				}
				printf(w, "\n")
				if p := sync.LastPass; p != nil {
					printf(w, "last pass  %s, %s fetched, %s inserted, %s reconciled, %s echoes dropped\n",
						ago(p.FinishedAt), count(int64(p.Fetched)), count(int64(p.Inserted)),
						count(int64(p.Reconciled)), count(int64(p.Echoes)))
					if p.Error != "" {
						printf(w, "  error: %s\n", p.Error)
					}
				}
			})
		},
	}
}
