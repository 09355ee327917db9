package core

import "sort"

// Case is a documented resolution scenario from the knowledge store. The
// engine reads cases through CaseSearcher only; authoring and indexing belong
// to the external administrative component.
type Case struct {
	ID                 string   `json:"id"`
	IssueType          string   `json:"issue_type"`
	IssueName          string   `json:"issue_name,omitempty"`
	CaseType           string   `json:"case_type,omitempty"`
	CaseName           string   `json:"case_name"`
	Description        string   `json:"description,omitempty"`
	Symptoms           []string `json:"symptoms,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
	QuestionsToAsk     []string `json:"questions_to_ask,omitempty"`
	SolutionSteps      []string `json:"solution_steps,omitempty"`
	EscalationTriggers []string `json:"escalation_triggers,omitempty"`
	SearchText         string   `json:"search_text,omitempty"`
}

// ScoredCase pairs a retrieved case with its store-side relevance score.
type ScoredCase struct {
	Case  Case    `json:"case"`
	Score float64 `json:"score"`
}

// CandidateMatch is a model-scored relevance judgement for one candidate
// case, as produced by the case narrower's matching step.
type CandidateMatch struct {
	CaseID     string  `json:"case_id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// SortMatches orders matches by confidence descending in place.
func SortMatches(matches []CandidateMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
}
