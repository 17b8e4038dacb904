package render

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/infra/nasapi"
)

func TestKilobytes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1.0 KiB"},
		{"1024", "1.0 MiB"},
		{"1048576", "1.0 GiB"},
		{" 2048 ", "2.0 MiB"},
		{"", ""},
		{"n/a", "n/a"},
	}

	for _, tt := range tests {
		if got := Kilobytes(tt.in); got != tt.want {
			t.Errorf("Kilobytes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUsedPercent(t *testing.T) {
	if got := UsedPercent("25", "100"); got != 25 {
		t.Errorf("UsedPercent = %v, want 25", got)
	}
	if got := UsedPercent("25", "0"); got != -1 {
		t.Errorf("UsedPercent with zero total = %v, want -1", got)
	}
	if got := UsedPercent("", "100"); got != -1 {
		t.Errorf("UsedPercent with missing used = %v, want -1", got)
	}
}

func TestDashboard(t *testing.T) {
	temp := 38
	exp := time.Now().Add(72 * time.Hour).UnixMilli()

	data := nasapi.DashboardData{
		Server:       nasapi.ServerData{Name: "Tower"},
		Registration: nasapi.RegistrationData{Type: "Pro", UpdateExpiration: strconv.FormatInt(exp, 10)},
		Array: nasapi.ArrayData{
			Capacity: nasapi.ArrayCapacityData{
				Kilobytes: nasapi.SizeData{Free: "1048576", Total: "4194304", Used: "3145728"},
				Disks:     nasapi.SizeData{Free: "26", Total: "30", Used: "4"},
			},
			Parities: []nasapi.DiskData{{Name: "parity", Status: "DISK_OK", Temp: &temp, Size: "1048576"}},
			Disks:    []nasapi.DiskData{{Name: "disk1", Status: "DISK_OK", Size: "1048576"}},
		},
		Shares: []nasapi.ShareData{{Name: "media", Used: "1024", Free: "2048"}},
		Docker: nasapi.DockerData{Containers: []nasapi.ContainerData{
			{Names: []string{"/plex"}, State: nasapi.ContainerRunning},
			{Names: []string{"/sonarr"}, State: nasapi.ContainerExited},
		}},
		ParityHistory: []nasapi.ParityCheckData{
			{Date: nasapi.ParityDate{Time: time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)}, Status: "OK"},
		},
	}

	out := Dashboard(data)

	for _, want := range []string{
		"Tower", "Pro", "3.0 GiB of 4.0 GiB (75%)", "1.0 GiB", "4/30",
		"parity", "38°C", "disk1", "standby",
		"media", "1.0 MiB", "2.0 MiB",
		"plex", "running", "sonarr", "exited",
		"2024-03-01 02:00", "OK",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Dashboard output missing %q:\n%s", want, out)
		}
	}
}

func TestDashboard_Empty(t *testing.T) {
	out := Dashboard(nasapi.DashboardData{})
	if !strings.Contains(out, "never") {
		t.Errorf("Expected missing expiration to render as never:\n%s", out)
	}
	if strings.Contains(out, "Container") {
		t.Errorf("Empty dashboard should not render tables:\n%s", out)
	}
}

func TestConnections(t *testing.T) {
	d := nas.NewDescriptor("192.168.1.10", "super-secret")
	d.MACAddress = "AA:BB:CC:DD:EE:FF"

	out := Connections([]nas.Descriptor{d})
	for _, want := range []string{"192.168.1.10", "http://192.168.1.10", "192.168.1.255", "AA:BB:CC:DD:EE:FF", "9"} {
		if !strings.Contains(out, want) {
			t.Errorf("Connections output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "super-secret") {
		t.Error("Connections output leaks the credential")
	}

	if out := Connections(nil); !strings.Contains(out, "no NAS connections") {
		t.Errorf("Unexpected empty output %q", out)
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		r    nas.Result[int]
		want string
	}{
		{nas.Ok(1), "connect succeeded"},
		{nas.LoadingResult[int](), "connect in progress"},
		{nas.Fail[int](nas.ConnectionError), "NAS unreachable"},
		{nas.Fail[int](nas.ParsingError), "unexpected response"},
		{nas.Fail[int](nas.InternalError), "internal error"},
	}

	for _, tt := range tests {
		if got := Result("connect", tt.r); !strings.Contains(got, tt.want) {
			t.Errorf("Result(%v) = %q, want it to contain %q", tt.r, got, tt.want)
		}
	}
}
