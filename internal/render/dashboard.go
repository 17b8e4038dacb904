package render

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/infra/nasapi"
)

const maxParityHistory = 5

// Dashboard renders the dashboard payload as sections of key/value lines
// and tables.
func Dashboard(d nasapi.DashboardData) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(orDash(d.Server.Name)) + "\n")

	expires := "never"
	if t, err := d.Registration.Expiration(); err == nil {
		expires = t.Format("2006-01-02") + " (" + humanize.Time(t) + ")"
	}
	capacity := d.Array.Capacity.Kilobytes
	used := Kilobytes(capacity.Used) + " of " + Kilobytes(capacity.Total)
	if pct := UsedPercent(capacity.Used, capacity.Total); pct >= 0 {
		used += fmt.Sprintf(" (%.0f%%)", pct)
	}
	sb.WriteString(keyValues("  ",
		kv("License", orDash(d.Registration.Type)),
		kv("Updates until", expires),
		kv("Array used", used),
		kv("Array free", Kilobytes(capacity.Free)),
		kv("Disk slots", d.Array.Capacity.Disks.Used+"/"+d.Array.Capacity.Disks.Total),
	))

	disks := append(append([]nasapi.DiskData{}, d.Array.Parities...), d.Array.Disks...)
	if len(disks) > 0 {
		rows := make([][]string, 0, len(disks))
		for _, disk := range disks {
			rows = append(rows, []string{disk.Name, disk.Status, temperature(disk.Temp), Kilobytes(disk.Size)})
		}
		sb.WriteString("\n" + grid([]string{"Disk", "Status", "Temp", "Size"}, rows) + "\n")
	}

	if len(d.Shares) > 0 {
		rows := make([][]string, 0, len(d.Shares))
		for _, share := range d.Shares {
			rows = append(rows, []string{share.Name, Kilobytes(share.Used), Kilobytes(share.Free)})
		}
		sb.WriteString("\n" + grid([]string{"Share", "Used", "Free"}, rows) + "\n")
	}

	if len(d.Docker.Containers) > 0 {
		rows := make([][]string, 0, len(d.Docker.Containers))
		for _, c := range d.Docker.Containers {
			rows = append(rows, []string{containerName(c.Names), containerState(c.State)})
		}
		sb.WriteString("\n" + grid([]string{"Container", "State"}, rows) + "\n")
	}

	if len(d.ParityHistory) > 0 {
		history := d.ParityHistory
		if len(history) > maxParityHistory {
			history = history[:maxParityHistory]
		}
		rows := make([][]string, 0, len(history))
		for _, p := range history {
			status := errorStyle.Render(p.Status)
			if p.Succeeded() {
				status = successStyle.Render(p.Status)
			}
			rows = append(rows, []string{p.Date.Format("2006-01-02 15:04"), humanize.Time(p.Date.Time), status})
		}
		sb.WriteString("\n" + grid([]string{"Parity check", "When", "Status"}, rows) + "\n")
	}

	return sb.String()
}

// Result renders a failed or pending envelope as a one-line message.
func Result[T any](op string, r nas.Result[T]) string {
	if kind, failed := r.Err(); failed {
		return ErrorMsg("%s failed: %s", op, describe(kind))
	}
	if !r.IsLoaded() {
		return InfoMsg("%s in progress", op)
	}
	return SuccessMsg("%s succeeded", op)
}

func describe(kind nas.ErrorKind) string {
	switch kind {
	case nas.ConnectionError:
		return "NAS unreachable"
	case nas.ParsingError:
		return "unexpected response from NAS"
	default:
		return "internal error"
	}
}

func temperature(t *int) string {
	if t == nil {
		return mutedStyle.Render("standby")
	}
	s := fmt.Sprintf("%d°C", *t)
	switch {
	case *t >= 50:
		return errorStyle.Render(s)
	case *t >= 45:
		return warnStyle.Render(s)
	default:
		return s
	}
}

func containerName(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.TrimPrefix(names[0], "/")
}

func containerState(s nasapi.ContainerState) string {
	if s == nasapi.ContainerRunning {
		return successStyle.Render("running")
	}
	return mutedStyle.Render("exited")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
