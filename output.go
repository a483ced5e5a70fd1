package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/noblelift/noblelift-client/internal/api"
	"github.com/noblelift/noblelift-client/internal/auth"
	"github.com/noblelift/noblelift-client/internal/services"
	"github.com/noblelift/noblelift-client/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	labelStyle = lipgloss.NewStyle().Bold(true).Width(12)
)

// renderItems prints items as a table with the ID first and then the given
// fields. Missing fields are left blank.
func renderItems(items []services.Item, fields ...string) string {
	if len(items) == 0 {
		return pathStyle.Render("(none)")
	}

	headers := make([]string, 0, len(fields)+1)
	headers = append(headers, "ID")
	for _, f := range fields {
		headers = append(headers, strings.ToUpper(f))
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		row := make([]string, 0, len(fields)+1)
		row = append(row, it.IDString())
		for _, f := range fields {
			row = append(row, it.Field(f))
		}
		rows = append(rows, row)
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		String()
}

func renderProfile(baseURL string, p *session.Profile, superAdmin bool, tokens auth.TokenPair) string {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(p.Raw, &fields)

	str := func(name string) string {
		var s string
		if raw, ok := fields[name]; ok {
			_ = json.Unmarshal(raw, &s)
		}
		return s
	}

	role := "member"
	if superAdmin {
		role = "super admin"
	}

	lines := []string{
		labelStyle.Render("User ID") + fmt.Sprint(p.UserID),
		labelStyle.Render("Role") + role,
	}
	if name := str("fullName"); name != "" {
		lines = append(lines, labelStyle.Render("Name")+name)
	}
	if email := str("email"); email != "" {
		lines = append(lines, labelStyle.Render("E-mail")+email)
	}
	if avatar := api.AvatarURL(baseURL, str("avatarUrl")); avatar != "" {
		lines = append(lines, labelStyle.Render("Avatar")+avatar)
	}
	if info, ok := auth.Inspect(tokens.RefreshToken); ok && !info.ExpiresAt.IsZero() {
		lines = append(lines, labelStyle.Render("Signed in")+"until "+info.ExpiresAt.Local().Format(time.RFC1123))
	}
	return strings.Join(lines, "\n")
}
