package util

import (
	"strings"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("pass1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.Contains(hash, "$") {
		t.Errorf("雜湊格式應為 salt$hash: %q", hash)
	}

	if !CheckPassword("pass1", hash) {
		t.Error("正確密碼應驗證成功")
	}
	if CheckPassword("pass2", hash) {
		t.Error("錯誤密碼不應驗證成功")
	}
	if CheckPassword("pass1", "not-a-valid-hash") {
		t.Error("格式錯誤的雜湊不應驗證成功")
	}
}

// 同一密碼每次加鹽不同，雜湊結果不能相同。
func TestHashPasswordSalted(t *testing.T) {
	h1, err := HashPassword("FSVS")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword("FSVS")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h1 == h2 {
		t.Error("兩次雜湊不應相同")
	}
	if !CheckPassword("FSVS", h1) || !CheckPassword("FSVS", h2) {
		t.Error("兩個雜湊都應能驗證原密碼")
	}
}
