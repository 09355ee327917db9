package testutil

import "github.com/voclabs/supportflow/core"

// SampleCases returns a small bilingual knowledge base covering two issue
// types, used by search and pipeline tests.
func SampleCases() []core.Case {
	return []core.Case{
		{
			ID:          "acct-001",
			IssueType:   "account",
			IssueName:   "계정 문제",
			CaseType:    "password_reset",
			CaseName:    "비밀번호 재설정",
			Description: "사용자가 비밀번호를 잊어 로그인할 수 없는 경우",
			Symptoms:    []string{"로그인 실패", "비밀번호 불일치"},
			Keywords:    []string{"비밀번호", "재설정", "로그인", "password"},
			QuestionsToAsk: []string{
				"가입하신 이메일 주소로 접근이 가능하신가요?",
				"마지막으로 로그인에 성공한 시점이 언제인가요?",
			},
			SolutionSteps: []string{
				"로그인 화면에서 '비밀번호 찾기'를 선택하세요.",
				"가입 이메일로 전송된 재설정 링크를 여세요.",
				"새 비밀번호를 입력하고 저장하세요.",
			},
			EscalationTriggers: []string{"이메일 접근 불가", "계정 도용"},
		},
		{
			ID:          "acct-002",
			IssueType:   "account",
			IssueName:   "계정 문제",
			CaseType:    "account_locked",
			CaseName:    "계정 잠금",
			Description: "로그인 시도 실패가 반복되어 계정이 잠긴 경우",
			Symptoms:    []string{"계정 잠금 안내", "로그인 차단"},
			Keywords:    []string{"잠금", "계정", "차단", "locked"},
			QuestionsToAsk: []string{
				"계정 잠금 안내 메시지를 언제 받으셨나요?",
				"직접 로그인을 시도하셨나요, 아니면 자동 로그인이었나요?",
			},
			SolutionSteps: []string{
				"30분 후 다시 로그인을 시도하세요.",
				"잠금이 유지되면 본인 인증 후 잠금 해제를 요청하세요.",
			},
			EscalationTriggers: []string{"본인 인증 실패"},
		},
		{
			ID:          "pay-001",
			IssueType:   "payment",
			IssueName:   "결제 문제",
			CaseType:    "double_charge",
			CaseName:    "중복 결제",
			Description: "같은 주문에 결제가 두 번 청구된 경우",
			Symptoms:    []string{"중복 청구", "이중 결제 내역"},
			Keywords:    []string{"중복", "결제", "환불", "청구"},
			QuestionsToAsk: []string{
				"결제에 사용하신 수단이 무엇인가요?",
				"두 청구 건의 금액이 동일한가요?",
			},
			SolutionSteps: []string{
				"주문 내역에서 중복 결제 건을 확인하세요.",
				"환불 요청을 접수하면 영업일 기준 3일 내 처리됩니다.",
			},
			EscalationTriggers: []string{"환불 지연", "3건 이상 중복"},
		},
	}
}
