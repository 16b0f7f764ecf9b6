package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"meridian/pkg/engine"
	"meridian/pkg/types"
	"meridian/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Style definitions
var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	bgLightColor   = lipgloss.Color("#44475A")
	fgColor        = lipgloss.Color("#F8F8F2")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2).
			MarginBottom(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(20)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	accentValueStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

type statusSnapshot struct {
	Stats engine.Statistics
	Nodes []types.DeliveryNode
}

func fetchStatus(baseURL string) (*statusSnapshot, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimRight(baseURL, "/")

	var st statusSnapshot
	if err := getJSON(client, base+"/api/v1/stats", &st.Stats); err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}
	if err := getJSON(client, base+"/api/v1/nodes", &st.Nodes); err != nil {
		return nil, fmt.Errorf("failed to fetch nodes: %w", err)
	}
	return &st, nil
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printStatusJSON(st *statusSnapshot) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func renderStatus(st *statusSnapshot) {
	renderOverview(st)
	renderNodeTable(st.Nodes)
}

func renderOverview(st *statusSnapshot) {
	utilization := 0.0
	if st.Stats.Nodes.CapacityBytes > 0 {
		utilization = float64(st.Stats.Nodes.UsedBytes) * 100 / float64(st.Stats.Nodes.CapacityBytes)
	}

	metrics := []struct {
		label string
		value string
		style lipgloss.Style
	}{
		{"Assets", fmt.Sprintf("%d", st.Stats.Catalog.Assets), accentValueStyle},
		{"Variants", fmt.Sprintf("%d", st.Stats.Catalog.Variants), valueStyle},
		{"Catalog Size", utils.FormatDataSize(st.Stats.Catalog.TotalBytes), valueStyle},
		{"Nodes", fmt.Sprintf("%d (%d active)", st.Stats.Nodes.TotalNodes, st.Stats.Nodes.ActiveNodes), valueStyle},
		{"Fleet Capacity", utils.FormatDataSize(st.Stats.Nodes.CapacityBytes), valueStyle},
		{"Used Storage", utils.FormatDataSize(st.Stats.Nodes.UsedBytes), valueStyle},
		{"Utilization", fmt.Sprintf("%.1f%%", utilization), utilizationStyle(utilization)},
		{"Requests", fmt.Sprintf("%d", st.Stats.Traffic.Requests), valueStyle},
		{"Hit Rate", fmt.Sprintf("%.1f%%", st.Stats.Traffic.HitRate*100), accentValueStyle},
		{"Avg Latency", fmt.Sprintf("%.1f ms", st.Stats.Traffic.AvgLatencyMS), valueStyle},
	}

	var content strings.Builder
	for _, m := range metrics {
		content.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render(m.label+":"),
			m.style.Render(m.value)))
	}
	content.WriteString("\n")
	content.WriteString(labelStyle.Render("Storage Usage:") + "\n")
	content.WriteString(progressBar(utilization, 40))

	fmt.Println(panel("MERIDIAN OVERVIEW", strings.TrimSpace(content.String()), 60))
}

func renderNodeTable(nodes []types.DeliveryNode) {
	if len(nodes) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return rowStyle
		})

	t.Headers("NODE ID", "REGION", "STATUS", "CAPACITY", "USED", "LATENCY", "CONNS")

	for _, node := range nodes {
		t.Row(
			string(node.ID),
			node.Region,
			statusCell(node.Status),
			utils.FormatDataSize(node.Capacity.StorageBytes),
			utils.FormatDataSize(node.Usage.StorageBytes),
			fmt.Sprintf("%.0f ms", node.Performance.LatencyMS),
			fmt.Sprintf("%d", node.Usage.Connections),
		)
	}

	fmt.Println(panel("DELIVERY NODES", t.Render(), 0))
}

func panel(title, content string, width int) string {
	p := panelStyle
	if width > 0 {
		p = p.Width(width)
	}
	return p.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), content))
}

func statusCell(status types.NodeStatus) string {
	switch status {
	case types.NodeActive:
		return "🟢 " + lipgloss.NewStyle().Foreground(accentColor).Render("ACTIVE")
	case types.NodeMaintenance:
		return "🟡 " + lipgloss.NewStyle().Foreground(warningColor).Render("MAINTENANCE")
	case types.NodeOverloaded:
		return "🟠 " + lipgloss.NewStyle().Foreground(warningColor).Render("OVERLOADED")
	default:
		return "🔴 " + lipgloss.NewStyle().Foreground(dangerColor).Render("INACTIVE")
	}
}

func utilizationStyle(percent float64) lipgloss.Style {
	switch {
	case percent >= 90:
		return lipgloss.NewStyle().Foreground(dangerColor).Bold(true)
	case percent >= 70:
		return lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	default:
		return accentValueStyle
	}
}

func progressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(float64(width) * percent / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	style := accentValueStyle
	if percent >= 70 {
		style = utilizationStyle(percent)
	}
	return style.Render(bar)
}
