package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/artpar/stagehand/internal/core/domain"
	"github.com/artpar/stagehand/internal/core/lifecycle"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
)

// printTable writes an aligned table. Cells are padded before they are
// colored so escape codes do not skew the widths.
func printTable(w io.Writer, headers []string, rows [][]string, colorize func(row, col int, cell string) string) {
	if len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(w, "%s  ", bold.Sprint(pad(h, widths[i])))
	}
	fmt.Fprintln(w)

	for i := range headers {
		fmt.Fprintf(w, "%s  ", gray.Sprint(strings.Repeat("─", widths[i])))
	}
	fmt.Fprintln(w)

	for r, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			cell = pad(cell, widths[i])
			if colorize != nil {
				cell = colorize(r, i, cell)
			}
			fmt.Fprintf(w, "%s  ", cell)
		}
		fmt.Fprintln(w)
	}
}

func pad(s string, width int) string {
	if n := width - len(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

func printEnvironments(w io.Writer, envs []domain.Environment) {
	if len(envs) == 0 {
		fmt.Fprintln(w, gray.Sprint("no environments"))
		return
	}

	headers := []string{"NAME", "ID", "MODE", "STATE", "LAST PHASE", "UPDATED", "ERROR"}
	rows := make([][]string, 0, len(envs))
	for _, env := range envs {
		rows = append(rows, []string{
			env.Name,
			shortID(env.ID),
			string(env.Mode),
			string(env.State),
			string(env.Phase),
			env.UpdatedAt.Local().Format(time.DateTime),
			truncate(firstLine(env.Error), 60),
		})
	}

	printTable(w, headers, rows, func(row, col int, cell string) string {
		env := envs[row]
		switch col {
		case 3:
			switch {
			case env.Failed():
				return red.Sprint(cell)
			case env.State == lifecycle.StateUp || env.State == lifecycle.StateHealthChecked:
				return green.Sprint(cell)
			case !env.Active():
				return gray.Sprint(cell)
			}
		case 6:
			return red.Sprint(cell)
		}
		return cell
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
