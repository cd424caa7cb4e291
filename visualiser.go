package workflowrun

import (
	"context"
	"os"
	"strings"
	"text/template"
)

// MermaidDiagram writes a mermaid state diagram of the run's lifecycle to path:
// the created run, every recorded send, and the outcomes attributed to it. It is
// a debugging and documentation aid; the output renders directly in markdown.
func MermaidDiagram(ctx context.Context, s *Service, runID, path string, d MermaidDirection) error {
	summary, err := s.DescribeRun(ctx, runID)
	if err != nil {
		return err
	}

	breakDown := strings.Split(path, "/")
	dirPath := strings.Join(breakDown[:len(breakDown)-1], "/")

	err = os.MkdirAll(dirPath, 0755)
	if err != nil {
		return err
	}

	fileName := breakDown[len(breakDown)-1:][0]
	file, err := os.Create(dirPath + "/" + fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	if d == UnknownDirection {
		d = LeftToRightDirection
	}

	mf := MermaidFormat{
		Direction: d,
	}

	created := mermaidNode("Created", summary.Run.Action)
	mf.StartingPoints = append(mf.StartingPoints, created)

	var sendNodes []string
	for _, send := range summary.Sends {
		node := mermaidNode(send.Status.String(), send.Recipient)
		sendNodes = append(sendNodes, node)

		mf.Transitions = append(mf.Transitions, MermaidTransition{
			From: created,
			To:   node,
		})
	}

	// Without sends the attribution hangs off the run itself.
	if len(sendNodes) == 0 {
		sendNodes = []string{created}
	}

	if summary.Phase() == RunPhaseAttributed {
		for _, attribution := range summary.Attributions {
			node := mermaidNode("Attributed", attribution.Method.String())
			for _, from := range sendNodes {
				mf.Transitions = append(mf.Transitions, MermaidTransition{
					From: from,
					To:   node,
				})
			}

			mf.TerminalPoints = append(mf.TerminalPoints, node)
		}
	} else {
		mf.TerminalPoints = append(mf.TerminalPoints, sendNodes...)
	}

	return template.Must(template.New("").Parse("```"+mermaidTemplate+"```")).Execute(file, mf)
}

// mermaidNode builds a node identifier that mermaid accepts: qualifier and label
// joined with underscores, everything outside [a-zA-Z0-9_] replaced.
func mermaidNode(qualifier, label string) string {
	var b strings.Builder
	for _, r := range qualifier + "_" + label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}

type MermaidFormat struct {
	Direction      MermaidDirection
	StartingPoints []string
	TerminalPoints []string
	Transitions    []MermaidTransition
}

type MermaidDirection string

const (
	UnknownDirection     MermaidDirection = ""
	TopToBottomDirection MermaidDirection = "TB"
	LeftToRightDirection MermaidDirection = "LR"
	RightToLeftDirection MermaidDirection = "RL"
	BottomToTopDirection MermaidDirection = "BT"
)

type MermaidTransition struct {
	From string
	To   string
}

var mermaidTemplate = `mermaid
stateDiagram-v2
	direction {{.Direction}}
	{{range $key, $value := .StartingPoints }}
	[*]-->{{$value}}
	{{- end }}
	{{range $key, $value := .Transitions }}
	{{$value.From}}-->{{$value.To}}
	{{- end }}
	{{range $key, $value := .TerminalPoints }}
	{{$value}}-->[*]
	{{- end }}
`
