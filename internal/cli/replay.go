package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"conversions/internal/meta"
	"conversions/internal/pipeline"
	"conversions/models"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	File      string
	Signature string
	DryRun    bool
}

// ReplayResult is what replay prints.
type ReplayResult struct {
	Status  string                  `json:"status"`
	OrderID string                  `json:"order_id,omitempty"`
	Reasons []string                `json:"reasons,omitempty"`
	Event   *models.ConversionEvent `json:"event,omitempty"`
	Result  json.RawMessage         `json:"result,omitempty"`
	Error   any                     `json:"error,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a stored webhook body through the pipeline",
		Long: `Runs one stored order webhook body through the pipeline and prints the outcome.

With --dry-run the event is assembled and printed but not delivered, and no
delivery credentials are needed.

Examples:
  conversions replay --file order.json --dry-run
  conversions replay --file order.json --signature "$HMAC"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "path to the webhook body (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&opts.Signature, "signature", "", "X-Shopify-Hmac-Sha256 value recorded with the body")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "assemble the event without delivering it")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	validate := cfg.Validate
	if opts.DryRun {
		validate = cfg.ValidatePipeline
	}
	if err := validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	body, err := os.ReadFile(opts.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.File, err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, opts.Logger, appOptions{dryRun: opts.DryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	out, procErr := a.pipeline.Process(ctx, pipeline.Input{
		Body:       body,
		Signature:  opts.Signature,
		ReceivedAt: time.Now(),
	})

	res := replayResult(out, procErr)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return procErr
}

func replayResult(out *pipeline.Outcome, err error) ReplayResult {
	var res ReplayResult
	if out != nil {
		res.Status = out.Status
		res.OrderID = out.OrderID
		res.Event = out.Event
		for _, r := range out.Classification.Reasons {
			res.Reasons = append(res.Reasons, r.String())
		}
		if out.Response != nil {
			res.Result = out.Response.Raw
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrSignatureRejected):
			res.Status = pipeline.StatusRejected
		case res.Status == "":
			res.Status = pipeline.StatusFailed
		}
		res.Error = err.Error()
		var derr *meta.DeliveryError
		if errors.As(err, &derr) {
			res.Error = derr.Detail()
		}
	}
	return res
}
