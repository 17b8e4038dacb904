package nasapi

import "encoding/json"

// Query is one of the fixed GraphQL documents the client issues.
type Query string

const (
	// ConnectionCheckQuery asks for the server identity only.
	ConnectionCheckQuery Query = `query { info { id } }`

	// DashboardQuery fetches everything the dashboard renders.
	DashboardQuery Query = `query {
  server { name }
  registration { type updateExpiration }
  array {
    capacity {
      kilobytes { free total used }
      disks { free total used }
    }
    parities { name status temp size }
    disks { name status temp size }
  }
  shares { name used free }
  docker { containers { names state labels } }
  parityHistory { date status }
}`
)

type envelope struct {
	Query string `json:"query"`
}

// Body returns the JSON request body {"query": "..."}.
func (q Query) Body() []byte {
	data, _ := json.Marshal(envelope{Query: string(q)})
	return data
}
