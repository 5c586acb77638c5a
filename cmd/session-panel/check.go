package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/session-panel/internal/config"
	"github.com/breeze-rmm/session-panel/internal/health"
	"github.com/breeze-rmm/session-panel/internal/monitor"
	"github.com/breeze-rmm/session-panel/internal/panel"
)

var checkOutput string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Collect sessions once and print the panel without connecting to Discord",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "text", "output format: text, json or yaml")
}

// checkReport is what `check` prints.
type checkReport struct {
	Users       []string       `json:"users" yaml:"users"`
	Tolerance   string         `json:"tolerance" yaml:"tolerance"`
	GeoLookup   bool           `json:"geoLookup" yaml:"geoLookup"`
	Rows        []monitor.Row  `json:"rows" yaml:"rows"`
	Panel       panel.Document `json:"panel" yaml:"panel"`
	Fingerprint string         `json:"fingerprint" yaml:"fingerprint"`
	Health      []health.Check `json:"health" yaml:"health"`
}

func runCheck(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, closeLog, err := loadConfig(false)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	report := collectReport(ctx, cfg)
	return writeReport(w, checkOutput, report)
}

func collectReport(ctx context.Context, cfg *config.Config) checkReport {
	hm := health.NewMonitor()
	engine := buildEngine(cfg, hm, nil)
	renderer := panel.NewRenderer(panel.Options{Aliases: cfg.UserAliases})

	rows := engine.Tick(ctx, true)
	doc := renderer.Render(rows, time.Now())
	return checkReport{
		Users:       cfg.MonitorUsers,
		Tolerance:   cfg.DisconnectTolerance().String(),
		GeoLookup:   cfg.GeoLookupEnabled,
		Rows:        rows,
		Panel:       doc,
		Fingerprint: doc.Fingerprint(),
		Health:      hm.All(),
	}
}

func writeReport(w io.Writer, format string, report checkReport) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		_, err := io.WriteString(w, renderText(report))
		return err
	default:
		return fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Background(lipgloss.Color("239")).Padding(0, 1)
	fieldStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	nameStyle   = lipgloss.NewStyle().Bold(true)
	footerStyle = lipgloss.NewStyle().Faint(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

var dotLabels = strings.NewReplacer(
	":red_circle:", "●",
	":yellow_circle:", "◐",
	":green_circle:", "○",
	"`", "",
)

func renderText(report checkReport) string {
	blocks := []string{titleStyle.Render(report.Panel.Title)}
	for _, f := range report.Panel.Fields {
		body := nameStyle.Render(dotLabels.Replace(f.Name)) + "\n" + dotLabels.Replace(f.Value)
		blocks = append(blocks, fieldStyle.Render(body))
	}
	blocks = append(blocks, footerStyle.Render(fmt.Sprintf("%s %s · fingerprint %.12s",
		report.Panel.Footer, report.Panel.LastChecked.Format(time.DateTime), report.Fingerprint)))

	for _, c := range report.Health {
		if c.Status != health.Healthy {
			blocks = append(blocks, warnStyle.Render(fmt.Sprintf("%s: %s %s", c.Name, c.Status, c.Message)))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...) + "\n"
}
