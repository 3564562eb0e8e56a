// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, profile, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeDuplicateAccount    = "DUPLICATE_ACCOUNT"
	ErrCodeWeakPassword        = "WEAK_PASSWORD"
	ErrCodeProfileCreateFailed = "PROFILE_CREATE_FAILED"
	ErrCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	ErrCodeNotAuthenticated    = "NOT_AUTHENTICATED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeInvalidAvatarURL    = "INVALID_AVATAR_URL"
	ErrCodeValidation          = "VALIDATION_FAILED"
)

// NewInvalidCredentialsError は認証失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewDuplicateAccountError は重複アカウントエラーを生成する。
func NewDuplicateAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAccount,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログイン画面からサインインするか、別のメールアドレスを使用してください。",
	}
}

// NewWeakPasswordError は脆弱なパスワードエラーを生成する。
func NewWeakPasswordError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードが要件を満たしていません: %s", reason),
		Category: "validation",
		Action:   "より長く複雑なパスワードを設定してください。",
	}
}

// NewProfileCreateFailedError はプロフィール作成失敗エラーを生成する。
// 登録フローの第2段階（プロフィール行の挿入）が失敗した場合に使用する。
func NewProfileCreateFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileCreateFailed,
		Message:  "ユーザープロフィールの作成に失敗しました。",
		Category: "profile",
		Action:   "しばらく待ってから再度登録をお試しください。",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("ユーザープロフィールが見つかりません: %s", id),
		Category: "profile",
		Action:   "ログインし直してください。",
	}
}

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインしてから再度操作してください。",
	}
}

// NewProviderUnavailableError はIDプロバイダー接続失敗エラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "認証サービスに接続できません。",
		Category: "system",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewInvalidAvatarURLError は無効なアバターURLエラーを生成する。
func NewInvalidAvatarURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAvatarURL,
		Message:  fmt.Sprintf("無効なアバターURLです: %s", reason),
		Category: "validation",
		Action:   "公開されているhttps形式の画像URLを指定してください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}
