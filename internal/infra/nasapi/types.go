package nasapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParityDateLayout is the timestamp format used in parity-check history.
const ParityDateLayout = "2006-01-02T15:04:05.000Z"

// ParitySuccessStatus marks a successful parity check.
const ParitySuccessStatus = "OK"

// ConnectionCheckInfo is the payload of the identity query.
type ConnectionCheckInfo struct {
	ID string `json:"id"`
}

type connectionCheckData struct {
	Info *ConnectionCheckInfo `json:"info"`
}

func (d connectionCheckData) validate() error {
	if d.Info == nil {
		return fmt.Errorf("missing field: info")
	}
	return nil
}

// DashboardData is the payload of the dashboard query.
type DashboardData struct {
	Server        ServerData        `json:"server"`
	Registration  RegistrationData  `json:"registration"`
	Array         ArrayData         `json:"array"`
	Shares        []ShareData       `json:"shares"`
	Docker        DockerData        `json:"docker"`
	ParityHistory []ParityCheckData `json:"parityHistory"`
}

// ServerData identifies the server.
type ServerData struct {
	Name string `json:"name"`
}

// RegistrationData is the license registration.
type RegistrationData struct {
	Type             string `json:"type"`
	UpdateExpiration string `json:"updateExpiration"` // epoch millis
}

// Expiration parses UpdateExpiration.
func (r RegistrationData) Expiration() (time.Time, error) {
	s := strings.TrimSpace(r.UpdateExpiration)
	if s == "" {
		return time.Time{}, fmt.Errorf("no expiration")
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiration %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// ArrayData describes the storage array.
type ArrayData struct {
	Capacity ArrayCapacityData `json:"capacity"`
	Parities []DiskData        `json:"parities"`
	Disks    []DiskData        `json:"disks"`
}

// ArrayCapacityData holds space in kilobytes and disk slot counts.
type ArrayCapacityData struct {
	Kilobytes SizeData `json:"kilobytes"`
	Disks     SizeData `json:"disks"`
}

// SizeData values are decimal strings as returned by the API.
type SizeData struct {
	Free  string `json:"free"`
	Total string `json:"total"`
	Used  string `json:"used"`
}

// DiskData describes one array disk. Temp is nil for spun-down disks.
type DiskData struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Temp   *int   `json:"temp"`
	Size   string `json:"size"` // kilobytes
}

// ShareData describes one user share, sizes in kilobytes.
type ShareData struct {
	Name string `json:"name"`
	Used string `json:"used"`
	Free string `json:"free"`
}

// DockerData lists containers.
type DockerData struct {
	Containers []ContainerData `json:"containers"`
}

// ContainerData describes one container.
type ContainerData struct {
	Names  []string        `json:"names"`
	State  ContainerState  `json:"state"`
	Labels ContainerLabels `json:"labels"`
}

// ContainerLabels carries the labels the dashboard uses.
type ContainerLabels struct {
	Icon string `json:"net.unraid.docker.icon,omitempty"`
}

// ContainerState is RUNNING or EXITED.
type ContainerState string

const (
	ContainerRunning ContainerState = "RUNNING"
	ContainerExited  ContainerState = "EXITED"
)

// UnmarshalJSON rejects states outside the known set.
func (s *ContainerState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch ContainerState(raw) {
	case ContainerRunning, ContainerExited:
		*s = ContainerState(raw)
		return nil
	default:
		return fmt.Errorf("unknown container state %q", raw)
	}
}

// ParityCheckData is one entry of parity-check history.
type ParityCheckData struct {
	Date   ParityDate `json:"date"`
	Status string     `json:"status"`
}

// Succeeded reports whether the check completed without errors.
func (p ParityCheckData) Succeeded() bool {
	return p.Status == ParitySuccessStatus
}

// ParityDate decodes ParityDateLayout timestamps.
type ParityDate struct {
	time.Time
}

func (d *ParityDate) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := time.Parse(ParityDateLayout, raw)
	if err != nil {
		return fmt.Errorf("parse parity date: %w", err)
	}
	d.Time = t
	return nil
}

func (d ParityDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.UTC().Format(ParityDateLayout))
}
