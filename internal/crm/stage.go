package crm

import (
	"strconv"
	"strings"
)

// Stage is a deal pipeline stage selectable from the deals form.
type Stage struct {
	code  int
	label string
	title string
}

// StageUnknown is returned for codes outside the pipeline. Its label is empty.
var StageUnknown = Stage{}

var pipelineStages = []Stage{
	{code: 1, label: "appointmentscheduled", title: "Appointment scheduled"},
	{code: 2, label: "qualifiedtobuy", title: "Qualified to buy"},
	{code: 3, label: "presentationscheduled", title: "Presentation scheduled"},
	{code: 4, label: "decisionmakerboughtin", title: "Decision maker bought in"},
	{code: 5, label: "contractsent", title: "Contract sent"},
	{code: 6, label: "closedwon", title: "Closed won"},
	{code: 7, label: "closedlost", title: "Closed lost"},
}

// StageFromCode maps a form code 1..7 to its stage.
func StageFromCode(code int) Stage {
	if code < 1 || code > len(pipelineStages) {
		return StageUnknown
	}
	return pipelineStages[code-1]
}

// ParseStageCode maps the raw dealstage form value to a stage.
func ParseStageCode(raw string) Stage {
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return StageUnknown
	}
	return StageFromCode(code)
}

// Stages lists the pipeline in code order.
func Stages() []Stage {
	cloned := make([]Stage, len(pipelineStages))
	copy(cloned, pipelineStages)
	return cloned
}

// Code is the form value of the stage, zero when unknown.
func (stage Stage) Code() int {
	return stage.code
}

// Label is the CRM's internal stage value.
func (stage Stage) Label() string {
	return stage.label
}

// Title is a human readable name.
func (stage Stage) Title() string {
	return stage.title
}

// Known reports whether the stage belongs to the pipeline.
func (stage Stage) Known() bool {
	return stage != StageUnknown
}
