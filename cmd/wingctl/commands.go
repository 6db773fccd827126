package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/internal/saved"
)

var signupCmd = &cobra.Command{
	Use:   "signup <email>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignup,
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in and store the API token",
	Long: `Signs in with e-mail and password. The password is read from --password
or, when that is empty, from the WINGCTL_PASSWORD environment variable.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored token",
	RunE:  runLogout,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show tier, credits and usage",
	RunE:  runProfile,
}

var upgradeCmd = &cobra.Command{
	Use:       "upgrade <Free|Basic|Premium>",
	Short:     "Change subscription tier",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"Free", "Basic", "Premium"},
	RunE:      runUpgrade,
}

var icebreakersCmd = &cobra.Command{
	Use:   "icebreakers <interest>",
	Short: "Generate opening messages for a match's interest",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIcebreakers,
}

var assessCmd = &cobra.Command{
	Use:   "assess <screenshot>...",
	Short: "Score a dating profile from 2 to 6 screenshots",
	Long: `Each screenshot is a local file path or an http(s) URL. The first
assessment of a session is free.`,
	Args: cobra.RangeArgs(2, 6),
	RunE: runAssess,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <prompt question>",
	Short: "Review an answer to a profile prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the dating assistant a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage saved icebreakers",
}

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved icebreakers",
	RunE:  runSavedList,
}

var savedToggleCmd = &cobra.Command{
	Use:   "toggle <message text>",
	Short: "Save a message, or unsave it when it is already saved",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSavedToggle,
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func password(cmd *cobra.Command) (string, error) {
	pw, _ := cmd.Flags().GetString("password")
	if pw == "" {
		pw = os.Getenv("WINGCTL_PASSWORD")
	}
	if pw == "" {
		return "", fmt.Errorf("password is required (--password or WINGCTL_PASSWORD)")
	}
	return pw, nil
}

func runSignup(cmd *cobra.Command, args []string) error {
	pw, err := password(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = strings.SplitN(args[0], "@", 2)[0]
	}
	return authenticate(cmd, "/api/auth/signup", map[string]string{"name": name, "email": args[0], "password": pw})
}

func runLogin(cmd *cobra.Command, args []string) error {
	pw, err := password(cmd)
	if err != nil {
		return err
	}
	return authenticate(cmd, "/api/auth/login", map[string]string{"email": args[0], "password": pw})
}

func authenticate(cmd *cobra.Command, path string, body map[string]string) error {
	creds, err := loadCredentials(credsPath)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	server := resolveServer(creds)
	var resp struct {
		models.LoginResponse
		Message string `json:"message"`
	}
	if err := newAPIClient(server, "").do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
		return nil
	}

	creds = credentials{Server: server, Email: body["email"], Token: resp.Token}
	if err := saveCredentials(credsPath, creds); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s, %s credits)\n",
		body["email"], resp.Profile.Tier, formatCredits(resp.Profile.Credits))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	client, creds, err := clientFromCredentials()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := client.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: server sign-out failed:", err)
	}
	creds.Token = ""
	if err := saveCredentials(credsPath, creds); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}

func runProfile(cmd *cobra.Command, args []string) error {
	client, _, err := clientFromCredentials()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var resp struct {
		Profile   models.Profile     `json:"profile"`
		Allotment float64            `json:"allotment"`
		NextReset string             `json:"next_reset"`
		Costs     map[string]float64 `json:"costs"`
	}
	if err := client.do(ctx, http.MethodGet, "/api/profile", nil, nil, &resp); err != nil {
		return err
	}

	p := resp.Profile
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s <%s>\n", p.Name, p.Email)
	fmt.Fprintf(out, "Tier:     %s\n", p.Tier)
	fmt.Fprintf(out, "Credits:  %s of %s weekly\n", formatCredits(p.Credits), formatCredits(resp.Allotment))
	fmt.Fprintf(out, "Refill:   %s\n", resp.NextReset)
	fmt.Fprintf(out, "Usage:    %d assessments, %d icebreaker sets, %d prompts, %d questions\n",
		p.Stats.Assessments, p.Stats.Icebreakers, p.Stats.Prompts, p.Stats.Questions)
	return nil
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	client, _, err := clientFromCredentials()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var resp struct {
		Profile models.Profile `json:"profile"`
	}
	if err := client.do(ctx, http.MethodPost, "/api/profile/upgrade", nil, models.UpgradeRequest{Tier: models.Tier(args[0])}, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Now on %s with %s credits\n", resp.Profile.Tier, formatCredits(resp.Profile.Credits))
	return nil
}

func runIcebreakers(cmd *cobra.Command, args []string) error {
	client, _, err := clientFromCredentials()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	matchContext, _ := cmd.Flags().GetString("context")
	req := models.IcebreakerRequest{Interest: strings.Join(args, " "), Context: matchContext}

	var resp struct {
		Icebreakers []models.Icebreaker `json:"icebreakers"`
		ProTip      string              `json:"pro_tip"`
		Saved       []bool              `json:"saved"`
		Credits     float64             `json:"credits"`
	}
	if err := client.do(ctx, http.MethodPost, "/api/icebreakers", nil, req, &resp); err != nil {
		return err
	}

	var b strings.Builder
	for i, ib := range resp.Icebreakers {
		mark := ""
		if i < len(resp.Saved) && resp.Saved[i] {
			mark = " (saved)"
		}
		fmt.Fprintf(&b, "### %s %s%s\n\n> %s\n\n", ib.Emoji, ib.Tone, mark, ib.MessageText)
		if ib.WhyItWorks != "" {
			fmt.Fprintf(&b, "**Why it works:** %s\n\n", ib.WhyItWorks)
		}
		if ib.FollowUp != "" {
			fmt.Fprintf(&b, "**Follow-up:** %s\n\n", ib.FollowUp)
		}
	}
	if resp.ProTip != "" {
		fmt.Fprintf(&b, "---\n\n💡 %s\n", resp.ProTip)
	}
	renderMarkdown(cmd.OutOrStdout(), b.String())
	fmt.Fprintf(cmd.OutOrStdout(), "%s credits left\n", formatCredits(resp.Credits))
	return nil
}

func runAssess(cmd *cobra.Command, args []string) error {
	client, _, err := clientFromCredentials()
	if err != nil {
		return err
	}
	sources, err := imageSources(args)
	if err != nil {
		return err
	}
	platform, _ := cmd.Flags().GetString("platform")

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var resp struct {
		Markdown string  `json:"markdown"`
		Cost     float64 `json:"cost"`
		Credits  float64 `json:"credits"`
	}
	req := models.ImageSourcesRequest{Platform: platform, Sources: sources}
	if err := client.do(ctx, http.MethodPost, "/api/assessments", nil, req, &resp); err != nil {
		return err
	}
	renderMarkdown(cmd.OutOrStdout(), resp.Markdown)
	fmt.Fprintf(cmd.OutOrStdout(), "Cost %s, %s credits left\n", formatCredits(resp.Cost), formatCredits(resp.Credits))
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	client, _, err := clientFromCredentials()
	if err != nil {
		return err
	}
	answer, _ := cmd.Flags().GetString("answer")
	image, _ := cmd.Flags().GetString("image")

	req := models.ImageSourcesRequest{Question: args[0], Answer: answer}
	if image != "" {
		if req.Sources, err = imageSources([]string{image}); err != nil {
			return err
		}
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var resp struct {
		Markdown string  `json:"markdown"`
		Credits  float64 `json:"credits"`
	}
	if err := client.do(ctx, http.MethodPost, "/api/prompts/analyze", nil, req, &resp); err != nil {
		return err
	}
	renderMarkdown(cmd.OutOrStdout(), resp.Markdown)
	fmt.Fprintf(cmd.OutOrStdout(), "%s credits left\n", formatCredits(resp.Credits))
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	client, _, err := clientFromCredentials()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var resp struct {
		Message models.ChatMessage `json:"message"`
		Credits float64            `json:"credits"`
	}
	if err := client.do(ctx, http.MethodPost, "/api/ama", nil, models.AskRequest{Question: strings.Join(args, " ")}, &resp); err != nil {
		return err
	}
	renderMarkdown(cmd.OutOrStdout(), resp.Message.Text)
	fmt.Fprintf(cmd.OutOrStdout(), "%s credits left\n", formatCredits(resp.Credits))
	return nil
}

func runSavedList(cmd *cobra.Command, args []string) error {
	client, _, err := clientFromCredentials()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	query := url.Values{}
	if q, _ := cmd.Flags().GetString("query"); q != "" {
		query.Set("q", q)
	}
	if c, _ := cmd.Flags().GetString("category"); c != "" {
		query.Set("category", c)
	}

	var resp struct {
		Items []models.SavedIcebreaker `json:"items"`
	}
	if err := client.do(ctx, http.MethodGet, "/api/saved", query, nil, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Items) == 0 {
		fmt.Fprintln(out, "No saved icebreakers")
		return nil
	}
	for _, item := range resp.Items {
		category := item.InterestCategory
		if category == "" {
			category = "Other"
		}
		fmt.Fprintf(out, "[%s] %s %s\n    %s\n", category, item.Emoji, item.Tone, item.MessageText)
	}
	return nil
}

func runSavedToggle(cmd *cobra.Command, args []string) error {
	client, _, err := clientFromCredentials()
	if err != nil {
		return err
	}
	text := saved.Key(strings.Join(args, " "))

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var resp saved.Toggle
	req := models.ToggleSaveRequest{Icebreaker: models.Icebreaker{MessageText: text}}
	if err := client.do(ctx, http.MethodPost, "/api/saved/toggle", nil, req, &resp); err != nil {
		return err
	}
	if resp.Saved {
		fmt.Fprintln(cmd.OutOrStdout(), "Saved")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Removed from saved")
	}
	return nil
}

// imageSources passes URLs through and base64-encodes local files.
func imageSources(args []string) ([]string, error) {
	sources := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			sources = append(sources, arg)
			continue
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg, err)
		}
		sources = append(sources, base64.StdEncoding.EncodeToString(data))
	}
	return sources, nil
}

func formatCredits(v float64) string {
	if v >= models.WeeklyCredits[models.TierPremium] {
		return "unlimited"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
