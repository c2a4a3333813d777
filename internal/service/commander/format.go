package commander

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/plugctl/internal/config"
	"github.com/oshokin/plugctl/internal/domain/plug"
)

// render writes the status in the requested format.
func render(w io.Writer, format, device string, status *plug.Status) error {
	var (
		out string
		err error
	)

	switch format {
	case config.OutputJSON:
		out, err = formatJSON(device, status)
	default:
		out = formatText(device, status)
	}

	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, out)

	return err
}

// formatPower converts the power data point to on, off or unknown.
func formatPower(status *plug.Status) string {
	on, known := status.Power()

	switch {
	case !known:
		return "unknown"
	case on:
		return "on"
	default:
		return "off"
	}
}

// formatText renders "<device>: <power>" followed by the sorted data points.
func formatText(device string, status *plug.Status) string {
	var sb strings.Builder

	sb.WriteString(device)
	sb.WriteString(": ")
	sb.WriteString(formatPower(status))

	keys := make([]string, 0, len(status.Points))
	for k := range status.Points {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(&sb, "\n  dps %s = %v", k, status.Points[k])
	}

	return sb.String()
}

// formatJSON renders the status as a protobuf Struct in JSON form.
func formatJSON(device string, status *plug.Status) (string, error) {
	dps := make(map[string]any, len(status.Points))
	for k, v := range status.Points {
		dps[k] = v
	}

	doc, err := structpb.NewStruct(map[string]any{
		"device": device,
		"power":  formatPower(status),
		"dps":    dps,
	})
	if err != nil {
		return "", fmt.Errorf("encode status: %w", err)
	}

	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal status: %w", err)
	}

	return string(data), nil
}
