// Command ywh2bt synchronizes YesWeHack vulnerability reports into external
// issue trackers.
package main

import (
	"os"

	// Adapter packages register themselves with the tracker registry.
	_ "github.com/yeswehack/ywh2bugtracker/internal/trackers/github"
	_ "github.com/yeswehack/ywh2bugtracker/internal/trackers/gitlab"
	_ "github.com/yeswehack/ywh2bugtracker/internal/trackers/jira"
	_ "github.com/yeswehack/ywh2bugtracker/internal/trackers/servicenow"
)

func main() {
	os.Exit(Execute())
}
