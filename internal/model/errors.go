// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, network, storage, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeOfflineStorageUnavailable = "OFFLINE_STORAGE_UNAVAILABLE"
	ErrCodeSessionExpired            = "SESSION_EXPIRED"
	ErrCodeNetworkFailure            = "NETWORK_FAILURE"
	ErrCodeStorageCorruption         = "STORAGE_CORRUPTION"
	ErrCodePartialSyncFailure        = "PARTIAL_SYNC_FAILURE"
	ErrCodeFilterNotSupported        = "FILTER_NOT_SUPPORTED"
	ErrCodeEntryNotFound             = "ENTRY_NOT_FOUND"
	ErrCodeInvalidFilter             = "INVALID_FILTER"
)

// NewOfflineStorageUnavailableError はオフラインストレージ利用不可エラーを生成する。
// オフラインモードを要求されたがストアが未提供または破損している場合に返す。
// 呼び出し元は直前のモードを維持しなければならない。
func NewOfflineStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeOfflineStorageUnavailable,
		Message:  "オフラインストレージが利用できません。",
		Category: "storage",
		Action:   "キャッシュを消去してからオフラインモードを再度有効にしてください。",
	}
}

// NewSessionExpiredError はセッション期限切れエラー（HTTP 403）を生成する。
// 自動リトライせず、必ず再ログイン導線として扱う。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNetworkFailureError はネットワーク障害エラーを生成する。
// 一時的な障害でありオンライン/オフラインモード自体は変更しない。
func NewNetworkFailureError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNetworkFailure,
		Message:  fmt.Sprintf("サーバーとの通信に失敗しました: %s", reason),
		Category: "network",
		Action:   "接続状態を確認し、再読み込みをお試しください。",
	}
}

// NewStorageCorruptionError はオフラインストレージ破損エラーを生成する。
// 以後brokenフラグによりオンライン専用動作へ縮退する。
func NewStorageCorruptionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStorageCorruption,
		Message:  fmt.Sprintf("オフラインストレージの操作に失敗しました: %s", reason),
		Category: "storage",
		Action:   "キャッシュを消去してオフラインストレージを再作成してください。",
	}
}

// NewPartialSyncFailureError は一部ステータス送信の失敗エラーを生成する。
// 失敗した変更のみがキューに残り、成功分は削除済みであることを示す。
func NewPartialSyncFailureError(failed int) *APIError {
	return &APIError{
		Code:     ErrCodePartialSyncFailure,
		Message:  fmt.Sprintf("%d件のステータス変更の送信に失敗しました。", failed),
		Category: "network",
		Action:   "失敗した変更は次回の同期で再送されます。",
	}
}

// NewFilterNotSupportedError はオフラインストアが対応していない
// フィルタ（タグ・ソース・検索）が指定された場合のエラーを生成する。
func NewFilterNotSupportedError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeFilterNotSupported,
		Message:  fmt.Sprintf("このフィルタはオフラインでは利用できません: %s", filter),
		Category: "validation",
		Action:   "オンラインに復帰してから再度お試しください。",
	}
}

// NewEntryNotFoundError は記事未検出エラーを生成する。
func NewEntryNotFoundError(entryID int64) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %d", entryID),
		Category: "validation",
		Action:   "一覧を再読み込みしてください。",
	}
}

// NewInvalidFilterError は無効なフィルタエラーを生成する。
func NewInvalidFilterError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタです: %s", filter),
		Category: "validation",
		Action:   "フィルタには newest、unread、starred のいずれかを指定してください。",
	}
}

// hasCode はerrがAPIErrorであり指定コードを持つかどうかを返す。
func hasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsSessionExpired はセッション期限切れエラーかどうかを返す。
func IsSessionExpired(err error) bool {
	return hasCode(err, ErrCodeSessionExpired)
}

// IsNetworkFailure はネットワーク障害エラーかどうかを返す。
func IsNetworkFailure(err error) bool {
	return hasCode(err, ErrCodeNetworkFailure)
}

// IsStorageCorruption はストレージ破損エラーかどうかを返す。
func IsStorageCorruption(err error) bool {
	return hasCode(err, ErrCodeStorageCorruption)
}

// IsOfflineStorageUnavailable はオフラインストレージ利用不可エラーかどうかを返す。
func IsOfflineStorageUnavailable(err error) bool {
	return hasCode(err, ErrCodeOfflineStorageUnavailable)
}

// IsFilterNotSupported はオフライン非対応フィルタエラーかどうかを返す。
func IsFilterNotSupported(err error) bool {
	return hasCode(err, ErrCodeFilterNotSupported)
}

// IsPartialSyncFailure は部分同期失敗エラーかどうかを返す。
func IsPartialSyncFailure(err error) bool {
	return hasCode(err, ErrCodePartialSyncFailure)
}
