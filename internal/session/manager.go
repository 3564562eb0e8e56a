// Package session は「誰がログインしているか」の単一情報源を提供する。
//
// ManagerはIDプロバイダーのセッションとローカルのプロフィール行を突き合わせ、
// login/register/logout/updateProfileの各操作を統一されたAuthResultコントラクトで公開する。
// 状態遷移は全てシーケンス番号付きで直列化され、非同期イベントと操作完了が
// 競合した場合は後から開始された遷移が優先される（古い遷移のコミットは破棄される）。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/timebank/internal/identity"
	"github.com/hitoshi/timebank/internal/model"
	"github.com/hitoshi/timebank/internal/repository"
)

// State はセッションの状態を表す。
type State int

const (
	// StateUninitialized はInitialize呼び出し前の状態。
	StateUninitialized State = iota
	// StateLoading は操作の実行中（プロバイダー/ストアへの問い合わせ中）を示す。
	StateLoading
	// StateAuthenticated は認証済みでプロフィールが利用可能な状態。
	StateAuthenticated
	// StateAnonymous は未認証の状態。
	StateAnonymous
)

// String はログとメトリクス用の状態名を返す。
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// 呼び出し元へ返す固定メッセージ。UIがそのまま表示する契約値のため変更しないこと。
const (
	msgNoUserLoggedIn      = "No user logged in"
	msgLoginFailed         = "login failed"
	msgRegisterFailed      = "registration failed"
	msgProfileCreateFailed = "Failed to create user profile, please try again"
	msgUnexpectedError     = "unexpected error"
)

// eventFetchTimeout はセッションイベント処理中のプロフィール取得のタイムアウト。
const eventFetchTimeout = 10 * time.Second

// avatarVerifyTimeout はアバターURLの到達確認リクエストのタイムアウト。
const avatarVerifyTimeout = 10 * time.Second

// NameSanitizer はユーザー入力の表示名をサニタイズするインターフェース。
type NameSanitizer interface {
	Sanitize(raw string) string
}

// AvatarURLValidator はアバターURLの安全性を検証するインターフェース。
// ValidateURLはDNS解決を伴わない静的な事前チェック、NewSafeClientは
// DNS解決後のIPアドレスまで検証するHTTPクライアントを提供する。
type AvatarURLValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// MetricsCollector は認証操作のメトリクス収集インターフェース。
type MetricsCollector interface {
	RecordLoginSuccess()
	RecordLoginFailure()
	RecordRegisterSuccess()
	RecordRegisterFailure()
	RecordCompensation()
	RecordSessionState(state string)
}

// Options はManagerの任意依存をまとめた構造体。
// 各フィールドはnil可で、nilの場合は該当処理をスキップする。
type Options struct {
	Sanitizer      NameSanitizer
	AvatarVerifier AvatarURLValidator
	Metrics        MetricsCollector
}

// Manager はセッションライフサイクルとプロフィール同期を管理する。
// 状態の変更は (a) プロバイダーのセッション変更イベント、(b) 操作の完了、の2経路のみで行われ、
// どちらもmutexとシーケンス番号で直列化される。
type Manager struct {
	provider identity.Provider
	profiles repository.ProfileRepository
	opts     Options

	mu            sync.Mutex
	state         State
	profile       *model.UserProfile
	nextSeq       uint64
	lastCommitted uint64
	unsubscribe   func()

	initOnce  sync.Once
	closeOnce sync.Once
}

// NewManager はManagerを生成する。Initialize呼び出しまで状態はUninitialized。
func NewManager(provider identity.Provider, profiles repository.ProfileRepository, opts Options) *Manager {
	return &Manager{
		provider: provider,
		profiles: profiles,
		opts:     opts,
		state:    StateUninitialized,
	}
}

// Initialize は起動時に1回だけ呼び出す。
// 既存の有効セッションを問い合わせ、存在すればプロフィールを取得してAuthenticatedへ遷移する。
// プロフィールの取得失敗や欠損ではクラッシュせず、ログを残してAnonymousに留まる。
// あわせてプロバイダーのセッション変更イベントの購読を開始する（プロセス唯一の購読）。
// 2回目以降の呼び出しは何もしない。
func (m *Manager) Initialize(ctx context.Context) {
	m.initOnce.Do(func() {
		m.initialize(ctx)
	})
}

func (m *Manager) initialize(ctx context.Context) {
	seq := m.begin()

	// イベントを取りこぼさないよう、セッション問い合わせの前に購読を開始する
	unsubscribe := m.provider.OnSessionChange(m.handleSessionEvent)
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	session, err := m.provider.GetSession(ctx)
	if err != nil {
		slog.Warn("failed to query existing session",
			slog.String("error", err.Error()),
		)
		m.commit(seq, StateAnonymous, nil)
		return
	}
	if session == nil {
		m.commit(seq, StateAnonymous, nil)
		return
	}

	profile, err := m.profiles.FindByID(ctx, session.UserID)
	if err != nil {
		slog.Warn("failed to fetch profile for existing session",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		m.commit(seq, StateAnonymous, nil)
		return
	}
	if profile == nil {
		slog.Warn("existing session has no profile row",
			slog.String("user_id", session.UserID),
		)
		m.commit(seq, StateAnonymous, nil)
		return
	}

	m.commit(seq, StateAuthenticated, profile)
	slog.Info("session restored",
		slog.String("user_id", profile.ID),
	)
}

// Close はセッション変更イベントの購読を解除する。冪等（解除は正確に1回だけ行われる）。
// Managerの所有者が破棄されるときに必ず呼ぶこと。
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		unsubscribe := m.unsubscribe
		m.unsubscribe = nil
		m.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

// Login はメールアドレスとパスワードで認証する。
// 認証情報の誤りを含む想定内の失敗はAuthResultで返し、error値やpanicを漏らさない。
func (m *Manager) Login(ctx context.Context, email, password string) model.AuthResult {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.Fail(msgLoginFailed)
	}

	seq := m.begin()

	session, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.commit(seq, StateAnonymous, nil)
		m.recordLogin(false)
		return model.Fail(resultMessage(err, msgLoginFailed))
	}

	profile, err := m.profiles.FindByID(ctx, session.UserID)
	if err != nil {
		m.commit(seq, StateAnonymous, nil)
		m.recordLogin(false)
		return model.Fail(resultMessage(err, msgLoginFailed))
	}
	if profile == nil {
		// 認証自体は成功しているがプロフィール行が欠損している
		slog.Error("authenticated user has no profile row",
			slog.String("user_id", session.UserID),
		)
		m.commit(seq, StateAnonymous, nil)
		m.recordLogin(false)
		return model.Fail(model.NewProfileNotFoundError(session.UserID).Message)
	}

	m.commit(seq, StateAuthenticated, profile)
	m.recordLogin(true)
	slog.Info("user logged in",
		slog.String("user_id", profile.ID),
	)
	return model.OK()
}

// Register は新規アカウントを登録する。
// 2段階で実行する: (a) IDプロバイダーにアカウントを作成し、
// (b) 返されたidをキーに初期残高付きのプロフィール行を挿入する。
// (b)が失敗した場合は補償としてプロバイダー側のセッションを破棄し、
// プロフィールを持たない認証済み状態が残らないようにする。
func (m *Manager) Register(ctx context.Context, name, email, password, phone string) model.AuthResult {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)
	phone = strings.TrimSpace(phone)

	if name == "" || email == "" || password == "" {
		return model.Fail(msgRegisterFailed)
	}
	if m.opts.Sanitizer != nil {
		name = m.opts.Sanitizer.Sanitize(name)
		if name == "" {
			return model.Fail(msgRegisterFailed)
		}
	}

	seq := m.begin()

	signUp, err := m.provider.SignUp(ctx, email, password, identity.SignUpMetadata{
		Name:  name,
		Phone: phone,
	})
	if err != nil {
		m.commit(seq, StateAnonymous, nil)
		m.recordRegister(false)
		return model.Fail(resultMessage(err, msgRegisterFailed))
	}

	now := time.Now()
	profile := &model.UserProfile{
		ID:        signUp.UserID,
		Name:      name,
		Email:     email,
		Phone:     phone,
		Balance:   model.DefaultBalance,
		JoinedAt:  now,
		UpdatedAt: now,
	}

	if err := m.profiles.Insert(ctx, profile); err != nil {
		slog.Error("failed to insert profile after identity creation",
			slog.String("user_id", signUp.UserID),
			slog.String("error", err.Error()),
		)

		// 補償処理: プロフィールのないIDプロバイダーセッションを残さない
		if signOutErr := m.provider.SignOut(ctx); signOutErr != nil {
			slog.Error("compensating sign-out failed",
				slog.String("user_id", signUp.UserID),
				slog.String("error", signOutErr.Error()),
			)
		}
		if m.opts.Metrics != nil {
			m.opts.Metrics.RecordCompensation()
		}

		m.commit(seq, StateAnonymous, nil)
		m.recordRegister(false)
		return model.Fail(msgProfileCreateFailed)
	}

	if signUp.Session != nil {
		m.commit(seq, StateAuthenticated, profile)
	} else {
		// メール確認等の外部確認待ち。セッションが確立するまでAnonymousに留まる。
		m.commit(seq, StateAnonymous, nil)
	}

	m.recordRegister(true)
	slog.Info("user registered",
		slog.String("user_id", profile.ID),
		slog.Bool("session_active", signUp.Session != nil),
	)
	return model.OK()
}

// Logout はIDプロバイダーへセッション無効化を要求し、ローカル状態を必ずAnonymousへ戻す。
// プロバイダー側の失敗はログに残すだけで、ローカル状態のクリアは省略しない。
func (m *Manager) Logout(ctx context.Context) {
	seq := m.begin()

	if err := m.provider.SignOut(ctx); err != nil {
		slog.Warn("provider sign-out failed, clearing local state anyway",
			slog.String("error", err.Error()),
		)
	}

	m.commit(seq, StateAnonymous, nil)
	slog.Info("user logged out")
}

// UpdateProfile は現在認証中のユーザーのプロフィールに部分更新を適用する。
// 未認証の場合はストアを呼ばずに失敗を返す。更新対象は常に現在のidのみで、
// 呼び出し側がidを指定することはできない。
// 成功時は受理されたフィールド（サニタイズ後の値）をメモリ上のプロフィールへ楽観的にマージする。
func (m *Manager) UpdateProfile(ctx context.Context, update model.ProfileUpdate) model.AuthResult {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.profile == nil {
		m.mu.Unlock()
		return model.Fail(msgNoUserLoggedIn)
	}
	id := m.profile.ID
	m.mu.Unlock()

	// ストア呼び出し前の検証とサニタイズ
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if m.opts.Sanitizer != nil {
			name = m.opts.Sanitizer.Sanitize(name)
		}
		if name == "" {
			return model.Fail(model.NewValidationError("表示名を空にすることはできません").Message)
		}
		update.Name = &name
	}
	if update.AvatarURL != nil && *update.AvatarURL != "" && m.opts.AvatarVerifier != nil {
		if err := m.opts.AvatarVerifier.ValidateURL(*update.AvatarURL); err != nil {
			return model.Fail(model.NewInvalidAvatarURLError(err.Error()).Message)
		}
		if err := m.verifyAvatarReachable(ctx, *update.AvatarURL); err != nil {
			return model.Fail(model.NewInvalidAvatarURLError(err.Error()).Message)
		}
	}

	if update.IsEmpty() {
		return model.OK()
	}

	if err := m.profiles.UpdateFields(ctx, id, &update); err != nil {
		return model.Fail(resultMessage(err, msgUnexpectedError))
	}

	// 楽観的ローカルマージ: ストアへ送った値だけを反映する（再取得はしない）。
	// ストア側は送られたフィールドをそのまま書き込むため、ローカルとの乖離は発生しない。
	m.mu.Lock()
	if m.state == StateAuthenticated && m.profile != nil && m.profile.ID == id {
		merged := *m.profile
		if update.Name != nil {
			merged.Name = *update.Name
		}
		if update.Phone != nil {
			merged.Phone = *update.Phone
		}
		if update.Balance != nil {
			merged.Balance = *update.Balance
		}
		if update.AvatarURL != nil {
			merged.AvatarURL = *update.AvatarURL
		}
		merged.UpdatedAt = time.Now()
		m.profile = &merged
	}
	m.mu.Unlock()

	slog.Info("profile updated",
		slog.String("user_id", id),
	)
	return model.OK()
}

// --- 観測用アクセサ ---

// Profile は現在のプロフィールのコピーを返す。未認証の場合はnilを返す。
func (m *Manager) Profile() *model.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return nil
	}
	copied := *m.profile
	return &copied
}

// IsLoggedIn は認証済みかを返す。
func (m *Manager) IsLoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAuthenticated
}

// IsLoading は操作が実行中かを返す。
func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateLoading
}

// State は現在の状態を返す。
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// --- 状態遷移 ---

// begin は操作開始を記録する。シーケンス番号を採番し、状態をLoadingへ進める。
func (m *Manager) begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	m.state = StateLoading
	return m.nextSeq
}

// ticket はイベント用のシーケンス番号を採番する。状態は変更しない。
func (m *Manager) ticket() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	return m.nextSeq
}

// commit は遷移を確定する。
// seqより新しい遷移が既に確定している場合、この遷移は古いものとして破棄される
// （イベントと操作完了の競合で後から開始された方を優先するための規律）。
func (m *Manager) commit(seq uint64, state State, profile *model.UserProfile) bool {
	m.mu.Lock()
	if seq < m.lastCommitted {
		m.mu.Unlock()
		slog.Debug("discarded stale session transition",
			slog.Uint64("seq", seq),
			slog.String("state", state.String()),
		)
		return false
	}
	m.lastCommitted = seq
	m.state = state
	m.profile = profile
	m.mu.Unlock()

	if m.opts.Metrics != nil {
		m.opts.Metrics.RecordSessionState(state.String())
	}
	return true
}

// handleSessionEvent はプロバイダーのセッション変更イベントを処理する。
// プロバイダーのディスパッチゴルーチンから直列に呼ばれる。
func (m *Manager) handleSessionEvent(ev model.SessionEvent) {
	switch ev.Type {
	case model.SessionSignedOut:
		seq := m.ticket()
		m.commit(seq, StateAnonymous, nil)
		slog.Info("session terminated by provider event",
			slog.String("user_id", ev.UserID),
		)

	case model.SessionSignedIn:
		seq := m.ticket()

		ctx, cancel := context.WithTimeout(context.Background(), eventFetchTimeout)
		defer cancel()

		profile, err := m.profiles.FindByID(ctx, ev.UserID)
		if err != nil {
			// 取得失敗では状態を倒さない（登録処理中のSIGNED_INはプロフィール挿入前に届く）
			slog.Warn("failed to fetch profile for signed-in event",
				slog.String("user_id", ev.UserID),
				slog.String("error", err.Error()),
			)
			return
		}
		if profile == nil {
			return
		}
		m.commit(seq, StateAuthenticated, profile)

	case model.SessionTokenRefreshed:
		// トークン更新は状態遷移を伴わない
	}
}

// verifyAvatarReachable はSSRF防止機能付きクライアントでアバターURLへHEADリクエストを送り、
// 安全なアドレスに解決され実際に取得可能であることを確認する。
// 静的なValidateURLを通過したURLでも、DNS解決後のIPアドレスはここで初めて検証される
// （DNS再バインディング対策はクライアントのDialer側で行われる）。
func (m *Manager) verifyAvatarReachable(ctx context.Context, rawURL string) error {
	client := m.opts.AvatarVerifier.NewSafeClient(avatarVerifyTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid avatar URL: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("avatar URL is not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("avatar URL returned status %d", resp.StatusCode)
	}
	return nil
}

// --- 内部ヘルパー ---

// resultMessage はエラーをAuthResult用のメッセージへ正規化する。
// プロバイダー/ストア定義のAPIErrorはメッセージをそのまま伝え、
// それ以外（ネットワーク断などの想定外エラー）はログに残して固定文言を返す。
func resultMessage(err error, fallback string) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return fallback
	}

	slog.Error("unexpected error in session operation",
		slog.String("error", err.Error()),
	)
	return msgUnexpectedError
}

func (m *Manager) recordLogin(success bool) {
	if m.opts.Metrics == nil {
		return
	}
	if success {
		m.opts.Metrics.RecordLoginSuccess()
	} else {
		m.opts.Metrics.RecordLoginFailure()
	}
}

func (m *Manager) recordRegister(success bool) {
	if m.opts.Metrics == nil {
		return
	}
	if success {
		m.opts.Metrics.RecordRegisterSuccess()
	} else {
		m.opts.Metrics.RecordRegisterFailure()
	}
}
