package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/output"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/search"
	"github.com/framescope/framescope/internal/session"
	"github.com/framescope/framescope/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	text       string
	grid       string
	logic      string
	maxObjects int
	tag        string
	entities   []string

	textWeight   float64
	objectWeight float64
	tagWeight    float64

	page    int
	perPage int
	user    string
	session string
	explain bool
	json    bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [text...]",
		Short: "Search keyframes by text, object grid and tags",
		Long: `Search keyframes with any mix of three modalities:

  text    free-text description, matched against the dense text index
  object  categories placed on the 7x7 grid (rows 0-6, columns a-g)
  tag     tag words and entities, matched against frame tags

Each active modality is searched concurrently and the rankings are fused
with weighted reciprocal rank fusion. Omitted weights come from the
configuration; an explicit 0 keeps a modality out of the fused score.`,
		Example: `  framescope search "a man riding a bicycle at night"
  framescope search --grid "c3=person;d3=bicycle" --logic and
  framescope search --tag "beach sunset" --entities "eiffel tower"
  framescope search "dog on grass" --grid a0=dog --text-weight 0.8 --page 2
  framescope search --session lab --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.text == "" {
				opts.text = strings.Join(args, " ")
			}
			return runSearch(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.text, "text", "q", "", "Free-text query")
	cmd.Flags().StringVarP(&opts.grid, "grid", "g", "", `Object grid, e.g. "a0=dog;c3=person"`)
	cmd.Flags().StringVar(&opts.logic, "logic", "", "Grid logic: and, or (default or)")
	cmd.Flags().IntVar(&opts.maxObjects, "max-objects", 0, "Maximum objects per frame (0 = no limit)")
	cmd.Flags().StringVarP(&opts.tag, "tag", "t", "", "Tag query")
	cmd.Flags().StringSliceVarP(&opts.entities, "entities", "e", nil, "Tag entities (repeatable)")
	cmd.Flags().Float64Var(&opts.textWeight, "text-weight", 0, "Text weight in [0,1]")
	cmd.Flags().Float64Var(&opts.objectWeight, "object-weight", 0, "Object weight in [0,1]")
	cmd.Flags().Float64Var(&opts.tagWeight, "tag-weight", 0, "Tag weight in [0,1]")
	cmd.Flags().IntVarP(&opts.page, "page", "p", 1, "Result page (1-based)")
	cmd.Flags().IntVarP(&opts.perPage, "per-page", "n", 0, "Results per page (0 = configured default)")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "User whose selections are marked (default from config)")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "Use and update a saved search session")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show the per-modality breakdown instead of a ranked page")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	user := opts.user
	if user == "" {
		user = cfg.Selection.User
	}

	params := query.Params{
		Text:       opts.text,
		Logic:      opts.logic,
		MaxObjects: opts.maxObjects,
		Tag:        opts.tag,
		Entities:   opts.entities,
		Weights:    cfg.Weights(),
	}
	if opts.grid != "" {
		if params.Grid, err = query.ParseGrid(opts.grid); err != nil {
			return err
		}
	}

	var (
		sessions *session.Manager
		sess     *session.Session
	)
	if opts.session != "" {
		if sessions, err = session.NewManager(cfg.SessionConfig()); err != nil {
			return err
		}
		if sess, err = sessions.Open(opts.session, user); err != nil {
			return err
		}
		applySession(cmd, sess, &params)
	}
	applyWeightFlags(cmd, opts, &params.Weights)

	qs, err := query.Build(params)
	if err != nil {
		return err
	}
	if qs.Empty() {
		return fmt.Errorf("nothing to search: give text, --grid, --tag or --entities")
	}
	if err := qs.Weights().Validate(); err != nil {
		return err
	}

	eng, err := openEngine(ctx, cfg, engineOptions{telemetry: true})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	out := cmd.OutOrStdout()
	if opts.explain {
		exp, err := eng.search.Explain(ctx, qs, opts.page, opts.perPage)
		if err != nil {
			return err
		}
		if opts.json {
			return output.New(out).JSON(exp)
		}
		return renderExplanation(out, qs, exp)
	}

	res, err := eng.search.Search(ctx, qs, opts.page, opts.perPage)
	if err != nil {
		return err
	}
	if err := eng.selection.Annotate(ctx, user, res.Frames); err != nil {
		slog.Warn("annotate_failed", slog.String("user", user), slog.String("error", err.Error()))
	}

	if sess != nil {
		sess.LastText = params.Text
		sess.LastTag = params.Tag
		sess.Weights = params.Weights
		if err := sessions.Save(sess); err != nil {
			slog.Warn("session_save_failed", slog.String("session", sess.Name), slog.String("error", err.Error()))
		}
	}

	if opts.json {
		return output.New(out).JSON(res)
	}
	return ui.NewResultTable(out, noColor || ui.DetectNoColor()).Render(res)
}

// applySession fills params the flags left unset from the session.
func applySession(cmd *cobra.Command, sess *session.Session, params *query.Params) {
	params.Weights = sess.Weights
	if !cmd.Flags().Changed("grid") && sess.Grid.Len() > 0 {
		params.Grid = make(map[string]string, sess.Grid.Len())
		for cell, cat := range sess.Grid.Cells {
			params.Grid[cell.String()] = string(cat)
		}
		if !cmd.Flags().Changed("logic") {
			params.Logic = string(sess.Grid.Logic)
		}
		if !cmd.Flags().Changed("max-objects") {
			params.MaxObjects = sess.Grid.MaxObjects
		}
	}
	if params.Text == "" {
		params.Text = sess.LastText
	}
	if !cmd.Flags().Changed("tag") && len(params.Entities) == 0 {
		params.Tag = sess.LastTag
	}
}

// applyWeightFlags overrides weights whose flags were given, zero included.
func applyWeightFlags(cmd *cobra.Command, opts searchOptions, w *query.Weights) {
	if cmd.Flags().Changed("text-weight") {
		w.Text = opts.textWeight
	}
	if cmd.Flags().Changed("object-weight") {
		w.Object = opts.objectWeight
	}
	if cmd.Flags().Changed("tag-weight") {
		w.Tag = opts.tagWeight
	}
}

// renderExplanation prints the dispatched modalities and each frame's raw
// per-modality rank and score.
func renderExplanation(out io.Writer, qs query.Structure, exp *search.Explanation) error {
	w := output.New(out)
	w.Section("Search breakdown: " + qs.Describe())
	for _, m := range exp.Modalities {
		w.KV(m.String(), fmt.Sprintf("%d frames, weight %.3f", exp.Counts[m], exp.Weights.Get(m)))
	}
	w.KV("rrf k", exp.RRFConstant)
	w.Newline()

	keys := make([]string, 0, len(exp.Frames))
	for k := range exp.Frames {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f := exp.Frames[k]
		var parts []string
		for _, m := range frame.Modalities() {
			if c, ok := f.Score.Details[m]; ok {
				parts = append(parts, fmt.Sprintf("%s #%d (%.3f)", m, c.Rank, c.Score))
			}
		}
		w.Status("", fmt.Sprintf("%s  %s", k, strings.Join(parts, ", ")))
	}
	return nil
}
