package answer

import (
	"strings"
	"testing"
)

func TestMaskPII_ResidentRegistrationNumber(t *testing.T) {
	got := MaskPII("담당자 주민등록번호는 900101-1234567 입니다.")
	if strings.Contains(got, "1234567") {
		t.Errorf("expected RRN serial masked, got %q", got)
	}
	if !strings.Contains(got, "900101-*******") {
		t.Errorf("expected birth-date half kept, got %q", got)
	}
}

func TestMaskPII_PhoneAndEmail(t *testing.T) {
	got := MaskPII("문의: 010-1234-5678, minwon@busan.go.kr")
	if strings.Contains(got, "010-1234-5678") || strings.Contains(got, "minwon@busan.go.kr") {
		t.Errorf("expected phone and email masked, got %q", got)
	}
	if !strings.Contains(got, "***-****-****") || !strings.Contains(got, "***@***") {
		t.Errorf("expected mask placeholders, got %q", got)
	}
}

func TestMaskPII_LeavesCitationsAndLocators(t *testing.T) {
	in := "2024년 예산은 100억 원이다. [1]\ndoc_id=D1, page=2, span=[120..260]"
	if got := MaskPII(in); got != in {
		t.Errorf("expected citation markers and locators untouched, got %q", got)
	}
}
