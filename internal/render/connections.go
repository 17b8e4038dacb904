package render

import (
	"strconv"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
)

// Connections renders stored descriptors as a table. Credentials are
// never printed.
func Connections(list []nas.Descriptor) string {
	if len(list) == 0 {
		return InfoMsg("no NAS connections stored")
	}

	rows := make([][]string, 0, len(list))
	for _, d := range list {
		active := ""
		if d.Active {
			active = successStyle.Render("●")
		}
		rows = append(rows, []string{
			active,
			d.Address,
			d.BaseURL,
			d.BroadcastAddress,
			orDash(d.MACAddress),
			strconv.Itoa(d.Port()),
		})
	}
	return grid([]string{"", "Address", "Base URL", "Broadcast", "MAC", "WoL port"}, rows)
}

// Descriptor renders one descriptor as key/value lines.
func Descriptor(d nas.Descriptor) string {
	return keyValues("  ",
		kv("Address", d.Address),
		kv("Base URL", d.BaseURL),
		kv("Broadcast", d.BroadcastAddress),
		kv("MAC", orDash(d.MACAddress)),
		kv("WoL port", strconv.Itoa(d.Port())),
	)
}
