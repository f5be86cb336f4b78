package database

import (
	"strconv"
	"strings"
)

// DefaultDatabase 預設（主）資料庫檔名，登入驗證一律在這裡進行。
const DefaultDatabase = "materials.db"

// 支援的部門編號範圍
const (
	minDepartment = 1
	maxDepartment = 9
)

// ResolveDatabase maps an authenticated username to the database file it
// should use. Usernames of the form dep<N> or dep<N>T (case-insensitive,
// N in 1..9) map to materials_<N>.db; everything else, including out-of-range
// department numbers, falls through to the default database.
//
// Pure function of the username: it is called at token issuance and must stay
// deterministic and side-effect-free.
func ResolveDatabase(username string) string {
	uname := strings.ToLower(strings.TrimSpace(username))
	if !strings.HasPrefix(uname, "dep") {
		return DefaultDatabase
	}

	suffix := strings.TrimPrefix(uname, "dep")
	// 如果尾巴是 't'，去掉它（dep3t 與 dep3 共用同一個資料庫）
	suffix = strings.TrimSuffix(suffix, "t")
	if suffix == "" || !isDigits(suffix) {
		return DefaultDatabase
	}

	depNum, err := strconv.Atoi(suffix)
	if err != nil || depNum < minDepartment || depNum > maxDepartment {
		return DefaultDatabase
	}
	return "materials_" + strconv.Itoa(depNum) + ".db"
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
