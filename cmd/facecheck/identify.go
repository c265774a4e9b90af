package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/source"
	"github.com/MrCodeEU/facecheck/pkg/verify"
)

var identifySession string

var identifyCmd = &cobra.Command{
	Use:   "identify <image>... | <dir> | -",
	Short: "Run frames through liveness and matching",
	Long: `Submits frames in order to one liveness session until an identity is
matched or the session fails. "-" reads an MJPEG stream from stdin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIdentify,
}

func init() {
	identifyCmd.Flags().StringVar(&identifySession, "session", "", "Session ID (random when empty)")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	src, err := source.Open(args)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load gallery: %w", err)
	}

	sessionID := identifySession
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	res, err := identify(ctx, cmd.OutOrStdout(), src, a.verifier, sessionID)
	if err != nil {
		return err
	}
	if code := exitCode(res); code != 0 {
		return &exitError{code: code, err: fmt.Errorf("verification failed: %s", res.Message)}
	}
	return nil
}

// Exit codes for identify, so scripts can tell a rejected face from a
// reason to fall back to another method:
//
//	0 = identity matched
//	1 = face rejected
//	2 = no usable face or liveness timed out, fall back
//	3 = system error, fall back
const (
	exitMatched  = 0
	exitRejected = 1
	exitFallback = 2
	exitSystem   = 3
)

func exitCode(res verify.Result) int {
	if res.Status == verify.StatusSuccess {
		return exitMatched
	}
	switch res.Code {
	case verify.ErrCodeNoMatch:
		return exitRejected
	case verify.ErrCodeNoFace, verify.ErrCodeMultipleFaces, verify.ErrCodeLighting,
		verify.ErrCodeLivenessTimeout, verify.ErrCodeCanceled:
		return exitFallback
	case verify.ErrCodeDecode, verify.ErrCodeInternal:
		return exitSystem
	default:
		return exitRejected
	}
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// frameVerifier is the part of verify.Service identify needs.
type frameVerifier interface {
	SubmitFrame(ctx context.Context, sessionID string, image []byte) verify.Result
}

// identify feeds frames until a terminal result or the source runs dry.
// Retryable failures move on to the next frame.
func identify(ctx context.Context, out io.Writer, src source.Source, v frameVerifier, sessionID string) (verify.Result, error) {
	last := verify.Result{Status: verify.StatusFailed, Message: "no frames processed"}
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, source.ErrExhausted) {
			return last, nil
		}
		if err != nil {
			return last, err
		}

		res := v.SubmitFrame(ctx, sessionID, frame.Data)
		last = res
		switch res.Status {
		case verify.StatusSuccess:
			fmt.Fprintf(out, "%s: matched %s (distance %.3f, pose %s)\n", frame.Name, res.Identity, res.Confidence, res.Pose)
			return res, nil
		case verify.StatusPending:
			fmt.Fprintf(out, "%s: %s\n", frame.Name, res.Message)
		default:
			fmt.Fprintf(out, "%s: %s [%s]\n", frame.Name, res.Message, res.Code)
			if !res.Retry {
				return res, nil
			}
		}
	}
}
