package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kozaktomas/face-auth/internal/authn"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/extract"
	"github.com/kozaktomas/face-auth/internal/matcher"
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate <image>",
	Short: "Authenticate a probe photo against the enrolled users",
	Long: `Run one authentication attempt with a local photo, exactly as the
HTTP API would. A successful match is recorded as a login unless --dry-run
is set.

Examples:
  # Default policy from MATCH_* variables
  face-auth authenticate probe.jpg

  # Kiosk policy with a stricter threshold, without recording a login
  face-auth authenticate probe.jpg --policy kiosk --threshold 0.4 --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthenticate,
}

func init() {
	rootCmd.AddCommand(authenticateCmd)

	authenticateCmd.Flags().String("policy", "", "Named match policy (default, kiosk, screening, hybrid)")
	authenticateCmd.Flags().Float64("threshold", 0, "Override the policy threshold")
	authenticateCmd.Flags().Bool("dry-run", false, "Do not record a login on success")
	authenticateCmd.Flags().Bool("json", false, "Output as JSON")
}

// AuthenticateOutput is the --json output of authenticate
type AuthenticateOutput struct {
	AttemptID         string  `json:"attempt_id"`
	Authenticated     bool    `json:"authenticated"`
	IdentityID        string  `json:"identity_id,omitempty"`
	DisplayName       string  `json:"display_name,omitempty"`
	Distance          float64 `json:"distance"`
	Confidence        float64 `json:"confidence,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	Threshold         float64 `json:"threshold"`
	CandidatesChecked int     `json:"candidates_checked"`
	DurationMs        int64   `json:"duration_ms"`
	LoginRecorded     bool    `json:"login_recorded"`
}

func runAuthenticate(cmd *cobra.Command, args []string) error {
	policyName := mustGetString(cmd, "policy")
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	cfg := config.Load()
	pc, ok := cfg.Policy(policyName)
	if !ok {
		return fmt.Errorf("unknown policy %q (available: default, %v)", policyName, cfg.PolicyNames())
	}
	policy := matcher.PolicyFromConfig(pc)
	if threshold, ok := flagOverride(cmd, "threshold", (*pflag.FlagSet).GetFloat64); ok {
		policy.Threshold = threshold
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading probe image: %w", err)
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	extractor := extract.NewClient(cfg.Extractor)
	progress, finish := refreshProgress(jsonOutput)
	cache, err := newCache(cfg, st, extractor, nil, progress)
	if err != nil {
		return err
	}

	service := authn.NewService(extractor, cache, st.backend, authn.Options{
		MaxProbeImageWidth: cfg.Match.MaxProbeImageWidth,
		DryRun:             dryRun,
	})
	result, err := service.Authenticate(ctx, image, policy)
	finish()
	if err != nil {
		var extractErr *extract.Error
		if errors.As(err, &extractErr) {
			return fmt.Errorf("%s (%s)", extractErr.UserMessage(), extractErr.Kind)
		}
		return err
	}

	out := authenticateOutput(result, policy)
	if jsonOutput {
		return outputJSON(out)
	}
	printAuthenticate(out)
	return nil
}

func authenticateOutput(result *authn.Result, policy matcher.Policy) AuthenticateOutput {
	out := AuthenticateOutput{
		AttemptID:         result.AttemptID,
		Threshold:         policy.Threshold,
		CandidatesChecked: result.CandidatesChecked,
		DurationMs:        result.Duration.Milliseconds(),
		LoginRecorded:     result.LoginRecorded,
	}
	switch v := result.Verdict.(type) {
	case *matcher.Acceptance:
		out.Authenticated = true
		out.IdentityID = v.IdentityID
		out.DisplayName = v.DisplayName
		out.Distance = v.Distance
		out.Confidence = v.Confidence
	case *matcher.Rejection:
		out.Reason = string(v.Reason)
		if v.HasCandidate {
			out.IdentityID = v.BestIdentityID
			out.DisplayName = v.BestDisplayName
			out.Distance = v.BestDistance
		}
	}
	return out
}

func printAuthenticate(out AuthenticateOutput) {
	if out.Authenticated {
		fmt.Printf("ACCEPTED  %s (id %s)\n", out.DisplayName, out.IdentityID)
		fmt.Printf("  Distance:   %.4f (threshold %.2f)\n", out.Distance, out.Threshold)
		fmt.Printf("  Confidence: %.1f%%\n", out.Confidence*100)
		fmt.Printf("  Login recorded: %v\n", out.LoginRecorded)
	} else {
		fmt.Printf("REJECTED  %s\n", out.Reason)
		if out.IdentityID != "" {
			fmt.Printf("  Closest:  %s (id %s) at %.4f (threshold %.2f)\n", out.DisplayName, out.IdentityID, out.Distance, out.Threshold)
		}
	}
	fmt.Printf("  Candidates checked: %d in %dms\n", out.CandidatesChecked, out.DurationMs)
}
