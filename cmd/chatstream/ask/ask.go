package askcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/chatstream/pkg/chat"
	"github.com/papercomputeco/chatstream/pkg/sse"
)

const askLongDesc string = `Ask a running chatstream server a question.

Posts the prompt to the server's /api/sse/ endpoint and renders the
answer while it streams in. The command returns once the server has
repeated the finished answer to keep the connection alive, which takes up
to two keepalive intervals after the last token.

On a terminal the answer is rendered as markdown; otherwise the raw
text is written as it arrives.

Examples:
  chatstream ask "What is a goroutine?"
  chatstream ask --server http://192.168.1.42:8000 --session work "Summarize our chat"
  chatstream ask --new-session --plain "Hello"`

const askShortDesc string = "Ask a chatstream server a question"

// ErrCompletionFailed is returned when the server reports that the model
// could not answer.
var ErrCompletionFailed = errors.New("completion failed on the server")

// errStreamClosed is returned when the server ends the stream before the
// answer was confirmed complete.
var errStreamClosed = errors.New("server closed the stream before the answer was complete")

type askCommander struct {
	serverURL  string
	session    string
	newSession bool
	plain      bool
	timeout    time.Duration
}

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&cmder.serverURL, "server", "s", "http://localhost:8000", "chatstream server URL")
	cmd.Flags().StringVar(&cmder.session, "session", "", "Conversation session (default: the shared session)")
	cmd.Flags().BoolVar(&cmder.newSession, "new-session", false, "Start a fresh session with a random name")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Write raw text even on a terminal")
	cmd.Flags().DurationVar(&cmder.timeout, "timeout", 5*time.Minute, "Give up after this long (0 disables)")

	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, prompt string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	serverURL := strings.TrimRight(c.serverURL, "/")

	session := c.session
	if c.newSession {
		session = uuid.NewString()
		fmt.Fprintln(cmd.ErrOrStderr(), statusStyle.Render("session "+session))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Cancelling hangs up, which also unblocks the reader goroutine.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := c.post(ctx, serverURL, session, prompt)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	updates := make(chan string)
	followErr := make(chan error, 1)
	go func() {
		followErr <- follow(ctx, resp.Body, updates)
	}()

	out := cmd.OutOrStdout()
	if c.useTUI(out) {
		err = streamWithBubbleTea(updates, out)
	} else {
		err = streamPlainText(updates, out)
	}

	cancel()
	if ferr := <-followErr; err == nil {
		err = ferr
	}

	if errors.Is(err, ErrCompletionFailed) {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(err.Error()))
	}

	return err
}

func (c *askCommander) post(ctx context.Context, serverURL, session, prompt string) (*http.Response, error) {
	form := url.Values{"prompt": {prompt}}
	if session != "" {
		form.Set("session", session)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/sse/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", sse.ContentType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

func (c *askCommander) useTUI(out io.Writer) bool {
	if c.plain {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// follow forwards every new payload of the stream to updates and closes it
// when the answer is done: the server repeats the final frame, or ends the
// stream after reporting a failure.
func follow(ctx context.Context, body io.Reader, updates chan<- string) error {
	defer close(updates)

	r := sse.NewReader(body)
	var last string

	for {
		u, err := r.Latest()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("could not read stream: %w", err)
		}

		if u.Payload != "" && u.Payload != last {
			last = u.Payload
			select {
			case updates <- last:
			case <-ctx.Done():
				return nil
			}
		}

		if u.Repeat {
			return nil
		}
	}

	if strings.HasSuffix(last, chat.ErrorMarker) {
		return ErrCompletionFailed
	}
	return errStreamClosed
}

// streamPlainText writes each payload as the text it adds to the previous one.
func streamPlainText(updates <-chan string, out io.Writer) error {
	var printed string
	for payload := range updates {
		if strings.HasPrefix(payload, printed) {
			fmt.Fprint(out, payload[len(printed):])
		} else {
			fmt.Fprint(out, "\n"+payload)
		}
		printed = payload
	}
	fmt.Fprintln(out)
	return nil
}
