package config

// Default returns the built-in conversation configuration. The thresholds,
// budgets and Korean response strings match the production defaults of the
// OSS VoC support service.
func Default() *Config {
	return &Config{
		Flow: FlowConfig{
			JSONInstruction: "반드시 유효한 JSON만 출력하세요. 설명 문장이나 코드 블록 없이 JSON 객체 하나만 응답합니다.",
			Continuity: ContinuityConfig{
				Prompt: `현재 진행 중인 상담 맥락입니다:
{{.Context}}

사용자의 새 메시지: {{.UserMessage}}

이 메시지가 진행 중인 문제에 대한 이어지는 대화인지 판단하세요.
"네", "아니요", 짧은 확인 답변은 항상 이어지는 대화로 판단합니다.
명백히 무관한 새로운 주제를 꺼낸 경우에만 새 주제로 판단하세요.

다음 형식으로 답하세요: {"is_continuation": true/false, "reason": "판단 근거"}`,
			},
			Classification: ClassificationConfig{
				ConfidenceThreshold: 0.7,
				MaxAttempts:         2,
				SearchTopK:          5,
				Prompt: `사용자 메시지를 분석하여 문제 유형을 분류하세요.

사용자 메시지: {{.UserMessage}}

{{.ContextSection}}

다음 형식으로 답하세요: {"issue_type": "이슈 타입 또는 null", "confidence": 0.0-1.0, "reason": "분류 근거"}`,
			},
			Narrowing: NarrowingConfig{
				ResolutionThreshold: 0.8,
				MinMatchConfidence:  0.5,
				TieMargin:           0.05,
				MaxQuestions:        4,
				SearchTopK:          5,
				MaxQueryTokens:      20,
				QueryPrompt: `아래 대화 내용에서 지식 베이스 검색에 사용할 간결한 검색어를 생성하세요.
{{.MaxTokens}} 단어 이내로 핵심 증상과 키워드만 담으세요.

대화 내용:
{{.Context}}

다음 형식으로 답하세요: {"search_query": "검색어"}`,
				MatchPrompt: `사용자의 상황과 아래 케이스들의 관련성을 평가하세요.

사용자 메시지: {{.UserMessage}}
현재 이슈: {{.CurrentIssue}}

가능한 케이스들:
{{.CaseDescriptions}}

각 케이스에 대해 0.0-1.0 사이의 관련성 점수를 매기고, 관련 있는 케이스만 포함하세요.
다음 형식으로 답하세요: {"matched_cases": [{"case_id": "...", "confidence": 0.0-1.0, "reason": "..."}]}`,
			},
			Formulation: FormulationConfig{
				DisambiguationPrompt: `여러 케이스가 사용자 상황과 비슷하게 일치합니다. 케이스를 구분할 수 있는 질문 하나를 골라 자연스럽게 다듬으세요.

사용자 메시지: {{.UserMessage}}

후보 케이스들:
{{.CaseDescriptions}}

사용 가능한 확인 질문들:
{{.CandidateQuestions}}

다음 형식으로 답하세요: {"question": "사용자에게 할 질문 하나"}`,
				SolutionPrompt: `케이스 "{{.CaseName}}"에 대한 해결 방법을 사용자 상황에 맞춰 단계별로 안내하세요.
반드시 아래 해결 단계에 있는 내용만 사용하고, 새로운 조치를 만들어내지 마세요.

사용자 메시지: {{.UserMessage}}

해결 단계:
{{.SolutionSteps}}

다음 형식으로 답하세요: {"response": "단계별 안내 메시지"}`,
			},
		},
		Management: ManagementConfig{
			SessionTimeoutMinutes:         30,
			MaxConversationTurns:          20,
			ContextRetentionTurns:         10,
			EscalationAfterFailedAttempts: 3,
			RequestTimeoutSeconds:         30,
			MaxUserMessageLength:          1000,
		},
		Fallbacks: Fallbacks{
			ClassificationUnclear: "문제를 좀 더 구체적으로 설명해 주실 수 있나요?",
			NoSearchResults:       "관련된 사례를 찾지 못했습니다. 문제를 조금 더 자세히 설명해 주시겠어요?",
			NoMatchingCases:       "말씀하신 상황과 일치하는 사례를 찾지 못했습니다. 조금 더 자세히 설명해 주시겠어요?",
			NeedMoreInfo:          "더 자세한 정보가 필요합니다.",
			Escalation:            "전문 상담원에게 연결해드리겠습니다.",
			GeneralError:          "처리 중 오류가 발생했습니다. 다시 시도해주세요.",
			SearchError:           "지식 베이스 검색 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요.",
			LLMError:              "응답 생성 중 문제가 발생했습니다. 다시 한 번 말씀해 주시겠어요?",
			TimeoutError:          "처리 시간이 초과되었습니다. 잠시 후 다시 시도해주세요.",
			SessionTimeout:        "세션이 만료되었습니다. 새로운 질문을 시작해주세요.",
			MaxTurnsReached:       "대화가 길어졌습니다. 전문 상담원에게 연결해드리겠습니다.",
		},
	}
}
