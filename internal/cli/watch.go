package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"claw-companion/backend/internal/integrity"
	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// NewWatchCommand connects as a renderer, prints each timeline frame and
// reports back what it displayed so the daemon can audit the display.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var (
		frames int
		sync   bool
		tail   int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the timeline as a renderer",
		Long: `Connect to the renderer websocket and print the timeline as it changes.

Every frame is acknowledged with a materialized report listing the rows
shown, which feeds the daemon's display audit.

Examples:
  clawctl watch
  clawctl watch --sync --frames 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := newAPIClient(opts).wsURL()
			if err != nil {
				return err
			}
			r := &renderer{out: cmd.OutOrStdout(), json: opts.Format == "json", tail: tail}
			return r.run(cmd.Context(), endpoint, frames, sync)
		},
	}

	cmd.Flags().IntVar(&frames, "frames", 0, "exit after this many frames (0 = run until interrupted)")
	cmd.Flags().BoolVar(&sync, "sync", false, "request a sync pass after connecting")
	cmd.Flags().IntVar(&tail, "tail", 10, "rows printed per frame")
	return cmd
}

type renderer struct {
	out  io.Writer
	json bool
	tail int
}

func (r *renderer) run(ctx context.Context, endpoint string, maxFrames int, sync bool) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("renderer rejected: missing or invalid token")
		}
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	if sync {
		if err := conn.WriteJSON(ws.Message{Type: ws.TypeSync}); err != nil {
			return err
		}
	}

	seen := 0
	for {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		switch msg.Type {
		case ws.TypeTimeline:
			var frame ws.TimelineFrame
			if err := json.Unmarshal(msg.Content, &frame); err != nil {
				return fmt.Errorf("malformed frame: %w", err)
			}
			r.render(frame)
			if err := conn.WriteJSON(materialized(frame)); err != nil {
				return err
			}
			seen++
			if maxFrames > 0 && seen >= maxFrames {
				return nil
			}
		case ws.TypeSyncAck:
			var ack struct {
				Accepted bool `json:"accepted"`
			}
			_ = json.Unmarshal(msg.Content, &ack)
			if !r.json {
				printf(r.out, "sync requested (accepted=%t)\n", ack.Accepted)
			}
		case ws.TypeError:
			printf(r.out, "daemon error: %s\n", string(msg.Content))
		}
	}
}

// materialized reports every row of frame as displayed, in frame order
func materialized(frame ws.TimelineFrame) interface{} {
	items := make([]integrity.RenderedItem, len(frame.Messages))
	for i, m := range frame.Messages {
		items[i] = integrity.RenderedItem{ID: m.ID, Direction: m.Direction}
	}
	content, _ := json.Marshal(ws.MaterializedReport{Seq: frame.Seq, Items: items})
	return ws.Message{Type: ws.TypeMaterialized, Content: content}
}

func (r *renderer) render(frame ws.TimelineFrame) {
	if r.json {
		_ = writeJSON(r.out, frame)
		return
	}
	msgs := frame.Messages
	if r.tail > 0 && len(msgs) > r.tail {
		msgs = msgs[len(msgs)-r.tail:]
	}
	printf(r.out, "── frame %d, %s messages\n", frame.Seq, count(int64(len(frame.Messages))))
	for _, m := range msgs {
		printf(r.out, "%-14s %-10s %s\n", agoMillis(m.Timestamp), speaker(m), truncate(m.Text, 72))
	}
}

func speaker(m models.MessageRecord) string {
	if m.IsFromUser() {
		if m.Synced {
			return "you"
		}
		return "you (…)"
	}
	if m.Origin.DisplayName != "" {
		return m.Origin.DisplayName
	}
	return fmt.Sprintf("entity %d", m.Origin.ID)
}
