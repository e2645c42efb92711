package openai

import (
	"encoding/json"
	"fmt"
)

const visitSummarySystemPrompt = `You are a clinical documentation assistant summarizing a recorded doctor-patient visit for the patient and their caregivers. Return ONLY valid JSON with this schema:
{
  "summary": string (3-6 short sentences in plain language covering what was discussed and decided),
  "diagnoses": string[] (0-5 diagnoses or working impressions mentioned by the clinician),
  "medications": string[] (0-10 medications discussed, each as "name - dose - instructions" where stated),
  "next_steps": string[] (1-8 concrete follow-up actions for the patient)
}
Use only information present in the transcript. Write for a patient, not a clinician: simple words, no abbreviations. Never invent diagnoses, doses, or appointments that were not said. If a section has no content, return an empty array.`

type visitSummaryPayload struct {
	Summary     string   `json:"summary"`
	Diagnoses   []string `json:"diagnoses"`
	Medications []string `json:"medications"`
	NextSteps   []string `json:"next_steps"`
}

func buildVisitSummaryUserPrompt(transcriptText string) string {
	return fmt.Sprintf("Visit transcript:\n%s\n", transcriptText)
}

func parseVisitSummaryPayload(data []byte) (*visitSummaryPayload, error) {
	var payload visitSummaryPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse summary payload: %w", err)
	}
	return &payload, nil
}
