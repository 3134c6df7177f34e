package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/Mindburn-Labs/agent-registry/pkg/api"
)

func renderAgent(w io.Writer, a api.Agent) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.AppendBulk([][]string{
		{"handle", a.Handle},
		{"authority", a.Authority},
		{"capabilities_uri", a.CapabilitiesURI},
		{"disclosure", strconv.Itoa(int(a.Disclosure))},
		{"reputation_score", strconv.FormatInt(a.ReputationScore, 10)},
		{"last_event.score_change", strconv.FormatInt(a.LastEvent.ScoreChange, 10)},
		{"last_event.reference", a.LastEvent.Reference},
	})
	table.Render()
}

func renderEvents(w io.Writer, resp *api.EventsResponse) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Seq", "Time", "Kind", "Change", "Previous", "Score", "Clamped"})
	for _, e := range resp.Events {
		table.Append([]string{
			strconv.FormatUint(e.Sequence, 10),
			e.Timestamp.Format(time.RFC3339),
			string(e.Kind),
			strconv.FormatInt(e.ScoreChange, 10),
			strconv.FormatInt(e.PreviousScore, 10),
			strconv.FormatInt(e.Score, 10),
			strconv.FormatBool(e.Clamped),
		})
	}
	table.Render()
	if !resp.FromRegistration {
		_, _ = fmt.Fprintln(w, "(earlier events are no longer retained by the server)")
	}
}
