package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/classpulse/classpulse/config"
	"github.com/classpulse/classpulse/internal/app"
	"github.com/classpulse/classpulse/internal/application/command"
	"github.com/classpulse/classpulse/internal/application/query"
	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/pkg/logger"
)

// cli carries the persistent flags and the application opened from them.
type cli struct {
	dataPath    string
	catalogPath string
	timezone    string
	at          string
	asJSON      bool
	verbose     bool
	demoJitter  bool

	out io.Writer
	app *app.App
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:               "analyticsctl",
		Short:             "ClassPulse analytics over a JSON snapshot",
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: c.open,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.close()
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.dataPath, "data", "d", "", "snapshot file (classes, students, activity, assignments, rubrics, submissions)")
	flags.StringVar(&c.catalogPath, "catalog", "", "suggestion catalog (YAML)")
	flags.StringVar(&c.timezone, "tz", "UTC", "school timezone")
	flags.StringVar(&c.at, "at", "", "reference time (RFC3339), defaults to now")
	flags.BoolVar(&c.asJSON, "json", false, "print JSON instead of a table")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")
	flags.BoolVar(&c.demoJitter, "demo-jitter", false, "fill empty heatmap cells with demo scores")
	_ = root.MarkPersistentFlagRequired("data")

	root.AddCommand(
		c.studentCmd(),
		c.gapsCmd(),
		c.digestCmd(),
		c.classCmd(),
		c.interventionsCmd(),
		c.gradeCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command, _ []string) error {
	loc, err := time.LoadLocation(c.timezone)
	if err != nil {
		return fmt.Errorf("invalid --tz: %w", err)
	}

	features := config.NewFeatureFlags()
	if c.demoJitter {
		if err := features.EnableFeature(config.FeatureHeatmapDemoJitter); err != nil {
			return err
		}
	}
	if err := features.DisableFeature(config.FeatureSessionSync); err != nil {
		return err
	}

	cfg := &config.Config{
		App:      config.AppConfig{Name: "analyticsctl", Version: Version, Timezone: c.timezone, Location: loc},
		Database: config.DatabaseConfig{SnapshotPath: c.dataPath},
		Redis:    config.RedisConfig{Disabled: true},
		Analytics: config.AnalyticsConfig{
			FanOutConcurrency: 4,
			CatalogPath:       c.catalogPath,
			TopSubjects:       3,
		},
		Features: features,
	}

	log := logger.Nop()
	if c.verbose {
		log = logger.NewForEnvironment(string(config.EnvDevelopment), "debug")
	}

	c.app, err = app.New(cmd.Context(), cfg, log)
	return err
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	return c.app.Close()
}

func (c *cli) refTime() (time.Time, error) {
	if c.at == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at: %w", err)
	}
	return t, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func (c *cli) studentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "student <student-id>",
		Short: "Streak, average, trend and top subjects for a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := c.refTime()
			if err != nil {
				return err
			}
			m, err := c.app.Queries.StudentMetrics.Handle(cmd.Context(), query.GetStudentMetricsQuery{
				StudentID: args[0],
				At:        at,
			})
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(m)
			}

			w := c.table()
			fmt.Fprintf(w, "student\t%s\n", m.StudentID)
			fmt.Fprintf(w, "streak\t%d days (longest %d)\n", m.StreakDays, m.LongestStreak)
			fmt.Fprintf(w, "average\t%.2f over %d graded items\n", m.AverageGrade, m.GradedItems)
			fmt.Fprintf(w, "trend\t%s\n", m.PerformanceTrend)
			subjects := make([]string, 0, len(m.TopSubjects))
			for _, s := range m.TopSubjects {
				subjects = append(subjects, fmt.Sprintf("%s (%d)", s.Subject, s.Count))
			}
			fmt.Fprintf(w, "top subjects\t%s\n", orDash(strings.Join(subjects, ", ")))
			fmt.Fprintf(w, "learning gaps\t%d\n", len(m.LearningGaps))
			return w.Flush()
		},
	}
}

func (c *cli) gapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gaps <student-id>",
		Short: "Topics where the student averages below 70",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gaps, err := c.app.Queries.LearningGaps.Handle(cmd.Context(), query.GetLearningGapsQuery{StudentID: args[0]})
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(gaps)
			}
			return c.printGaps(gaps)
		},
	}
}

func (c *cli) printGaps(gaps []analytics.LearningGap) error {
	if len(gaps) == 0 {
		fmt.Fprintln(c.out, "no learning gaps")
		return nil
	}
	w := c.table()
	fmt.Fprintln(w, "TOPIC\tAVERAGE\tATTEMPTS\tSUGGESTION")
	for _, g := range gaps {
		suggestion := ""
		if len(g.Suggestions) > 0 {
			suggestion = g.Suggestions[0]
		}
		fmt.Fprintf(w, "%s\t%.2f\t%d\t%s\n", g.Topic, g.AverageGrade, g.Attempts, orDash(suggestion))
	}
	return w.Flush()
}

func (c *cli) digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <student-id>",
		Short: "Weekly guardian digest ending at --at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := c.refTime()
			if err != nil {
				return err
			}
			d, err := c.app.Queries.WeeklyDigest.Handle(cmd.Context(), query.GetWeeklyDigestQuery{
				StudentID: args[0],
				At:        at,
			})
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(d)
			}

			w := c.table()
			name := d.StudentName
			if name == "" {
				name = d.StudentID.String()
			}
			fmt.Fprintf(w, "student\t%s\n", name)
			fmt.Fprintf(w, "period\t%s .. %s\n", d.Period.From.Format(time.DateOnly), d.Period.To.Format(time.DateOnly))
			fmt.Fprintf(w, "active days\t%d\n", d.ActiveDays)
			fmt.Fprintf(w, "assignments\t%d\n", d.AssignmentsCompleted)
			avg := "-"
			if d.AverageGrade != nil {
				avg = strconv.FormatFloat(*d.AverageGrade, 'f', 2, 64)
			}
			fmt.Fprintf(w, "average\t%s\n", avg)
			fmt.Fprintf(w, "streak\t%d\n", d.Streak)
			fmt.Fprintf(w, "trend\t%s\n", d.Trend)
			if err := w.Flush(); err != nil {
				return err
			}
			printList(c.out, "Achievements", d.Achievements)
			printList(c.out, "Concerns", d.Concerns)
			printList(c.out, "Next steps", d.NextSteps)
			return nil
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASS COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func (c *cli) classCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "class <class-id>",
		Short: "Class dashboard: engagement, heatmap, struggle topic and vibe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.app.Queries.ClassMetrics.Handle(cmd.Context(), query.GetClassMetricsQuery{ClassID: args[0]})
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(m)
			}

			w := c.table()
			fmt.Fprintf(w, "class\t%s\n", m.ClassID)
			fmt.Fprintf(w, "students\t%d\n", m.StudentCount)
			fmt.Fprintf(w, "engagement\t%d%%\n", m.AvgEngagement)
			fmt.Fprintf(w, "total hours\t%s\n", m.TotalHours)
			fmt.Fprintf(w, "top subject\t%s\n", orDash(m.TopSubject))
			if m.StruggleTopic != nil {
				fmt.Fprintf(w, "struggling\t%s (~%d students)\n", *m.StruggleTopic, m.EstimatedStrugglingStudents)
			}
			fmt.Fprintf(w, "vibe\t%s\n", m.Vibe)
			fmt.Fprintf(w, "insight\t%s\n", m.SentimentInsight)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "SUBJECT\tSCORE\tSTUDENTS")
			for _, h := range m.HeatmapData {
				score := "-"
				if h.HasData || h.Simulated {
					score = strconv.Itoa(h.Score)
				}
				if h.Simulated {
					score += "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\n", h.Subject, score, h.Students)
			}
			return w.Flush()
		},
	}
}

func (c *cli) interventionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interventions <class-id>",
		Short: "Students whose grades call for an intervention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Queries.ClassInterventions.Handle(cmd.Context(), query.GetClassInterventionsQuery{ClassID: args[0]})
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(res)
			}
			if len(res.Alerts) == 0 {
				fmt.Fprintf(c.out, "no alerts (%d students evaluated)\n", res.Evaluated)
				return nil
			}

			w := c.table()
			fmt.Fprintln(w, "STUDENT\tTYPE\tSEVERITY\tAVG\tMESSAGE")
			for _, a := range res.Alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", a.StudentID, a.Type, a.Severity, a.AvgGrade, a.Message)
			}
			return w.Flush()
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADING
// ══════════════════════════════════════════════════════════════════════════════

func (c *cli) gradeCmd() *cobra.Command {
	var (
		manual   float64
		scores   map[string]string
		feedback string
	)
	cmd := &cobra.Command{
		Use:   "grade <submission-id>",
		Short: "Grade a submission from rubric scores or a manual grade",
		Long: `Grade a submission. Rubric scores are percentages per criterion and
are weighted by the assignment's rubric. When no rubric grade can be
computed the manual grade is used. The snapshot file is not modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gc := command.GradeSubmissionCommand{
				SubmissionID: args[0],
				Feedback:     feedback,
			}
			if cmd.Flags().Changed("manual") {
				gc.ManualGrade = &manual
			}
			if len(scores) > 0 {
				parsed, err := parseScores(scores)
				if err != nil {
					return err
				}
				gc.RubricScores = parsed
			}

			res, err := c.app.Commands.GradeSubmission.Handle(cmd.Context(), gc)
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(res)
			}

			source := "manual"
			if res.FromRubric {
				source = "rubric"
			}
			fmt.Fprintf(c.out, "%s: %.2f / %.0f (%s)\n", res.SubmissionID, res.Grade, res.MaxPoints, source)
			if r := res.Report; r != nil {
				fmt.Fprintf(c.out, "rubric: %d criteria scored, weight %.2f, %d malformed skipped\n",
					r.ScoredCriteria, r.ScoredWeight, r.SkippedMalformed)
				if len(r.UnknownCriteria) > 0 {
					fmt.Fprintf(c.out, "ignored unknown criteria: %s\n", strings.Join(r.UnknownCriteria, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&manual, "manual", 0, "manual grade in points")
	cmd.Flags().StringToStringVar(&scores, "score", nil, "rubric score as criterion=percent, repeatable")
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback for the student")
	return cmd
}

func parseScores(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for criterion, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("score %q: %w", criterion, err)
		}
		out[criterion] = f
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, it := range sorted {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
