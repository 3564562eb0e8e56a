package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/timebank/internal/model"
)

const (
	defaultRefreshMargin   = 60 * time.Second
	defaultRefreshInterval = 30 * time.Second
	defaultRequestTimeout  = 10 * time.Second

	// eventBufferSize はイベントチャネルのバッファサイズ。
	// ディスパッチゴルーチンが追いつかない場合でもemit側をブロックさせないための余裕。
	eventBufferSize = 16
)

// HTTPProviderConfig はホスト型ID基盤（GoTrue互換API）クライアントの設定。
type HTTPProviderConfig struct {
	BaseURL string // 例: "https://auth.example.com/auth/v1"
	APIKey  string

	// InitialRefreshToken が設定されている場合、起動時のGetSessionで
	// このリフレッシュトークンからセッションの再構築を試みる。
	InitialRefreshToken string

	// RefreshMargin は有効期限の何秒前にトークンを更新するか。
	RefreshMargin time.Duration
	// RefreshInterval はバックグラウンド更新ループの確認間隔。
	RefreshInterval time.Duration

	// テスト用にオーバーライド可能なHTTPクライアント
	HTTPClient *http.Client
}

// HTTPProvider はホスト型ID基盤のHTTP APIを呼び出すProvider実装。
// 現在のセッションをプロセス内に保持し、バックグラウンドでトークンを更新する。
// セッション変更イベントは専用のディスパッチゴルーチンから直列に配送される。
type HTTPProvider struct {
	config HTTPProviderConfig
	client *http.Client

	mu      sync.Mutex
	session *model.ProviderSession

	subMu   sync.Mutex
	subs    map[uint64]func(model.SessionEvent)
	nextSub uint64

	events chan model.SessionEvent
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewHTTPProvider はHTTPProviderを生成し、イベント配送とトークン更新の
// バックグラウンドゴルーチンを開始する。使用後はCloseを呼ぶこと。
func NewHTTPProvider(config HTTPProviderConfig) *HTTPProvider {
	if config.RefreshMargin <= 0 {
		config.RefreshMargin = defaultRefreshMargin
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaultRefreshInterval
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	p := &HTTPProvider{
		config: config,
		client: client,
		subs:   make(map[uint64]func(model.SessionEvent)),
		events: make(chan model.SessionEvent, eventBufferSize),
		done:   make(chan struct{}),
	}

	p.wg.Add(2)
	go p.dispatchLoop()
	go p.refreshLoop()

	return p
}

// Close はバックグラウンドゴルーチンを停止する。冪等。
func (p *HTTPProvider) Close() {
	p.once.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// GetSession は有効な既存セッションを返す。セッションが存在しない場合はnilを返す。
func (p *HTTPProvider) GetSession(ctx context.Context) (*model.ProviderSession, error) {
	p.mu.Lock()
	session := p.session
	initial := p.config.InitialRefreshToken
	p.mu.Unlock()

	if session != nil {
		if !session.Expired(time.Now()) {
			copied := *session
			return &copied, nil
		}
		// 期限切れ: リフレッシュを試みる
		return p.refresh(ctx, session.RefreshToken)
	}

	// プロセス再起動後の再構築: 初期リフレッシュトークンがあれば使う
	if initial != "" {
		refreshed, err := p.refresh(ctx, initial)
		if err != nil {
			// 無効化されたトークンはセッションなしとして扱う
			return nil, nil
		}
		return refreshed, nil
	}

	return nil, nil
}

// SignInWithPassword はメールアドレスとパスワードで認証する。
func (p *HTTPProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.ProviderSession, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	var resp tokenResponse
	if err := p.post(ctx, "/token?grant_type=password", "", body, &resp); err != nil {
		return nil, err
	}

	session := resp.toSession()
	if session == nil {
		return nil, fmt.Errorf("empty access token in sign-in response")
	}

	p.setSession(session)
	p.emit(model.SessionEvent{Type: model.SessionSignedIn, UserID: session.UserID})

	copied := *session
	return &copied, nil
}

// SignUp は新規アカウントを作成する。
// name、phoneはプロバイダー側のユーザーメタデータとして埋め込む。
func (p *HTTPProvider) SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (*SignUpResult, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data": map[string]string{
			"name":  meta.Name,
			"phone": meta.Phone,
		},
	}

	var resp signUpResponse
	if err := p.post(ctx, "/signup", "", body, &resp); err != nil {
		return nil, err
	}

	userID := resp.User.ID
	if userID == "" {
		userID = resp.ID
	}
	if userID == "" {
		return nil, fmt.Errorf("empty user ID in sign-up response")
	}

	result := &SignUpResult{UserID: userID}

	// メール確認が不要な設定の場合、レスポンスに即時セッションが含まれる
	if resp.AccessToken != "" {
		session := &model.ProviderSession{
			UserID:       userID,
			AccessToken:  resp.AccessToken,
			RefreshToken: resp.RefreshToken,
			ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		}
		p.setSession(session)
		p.emit(model.SessionEvent{Type: model.SessionSignedIn, UserID: userID})

		copied := *session
		result.Session = &copied
	}

	return result, nil
}

// SignOut は現在のセッションを無効化する。
// プロバイダーへの通知が失敗してもローカルのセッションは破棄する。
func (p *HTTPProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()

	var requestErr error
	if session != nil {
		requestErr = p.post(ctx, "/logout", session.AccessToken, nil, nil)
	}

	p.clearSession()
	p.emit(model.SessionEvent{Type: model.SessionSignedOut})

	return requestErr
}

// OnSessionChange はセッション変更イベントの購読を開始する。
func (p *HTTPProvider) OnSessionChange(fn func(model.SessionEvent)) (unsubscribe func()) {
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
		})
	}
}

// --- 内部処理 ---

// refresh はリフレッシュトークンで新しいセッションを取得する。
func (p *HTTPProvider) refresh(ctx context.Context, refreshToken string) (*model.ProviderSession, error) {
	if refreshToken == "" {
		return nil, nil
	}

	body := map[string]string{"refresh_token": refreshToken}

	var resp tokenResponse
	if err := p.post(ctx, "/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return nil, err
	}

	session := resp.toSession()
	if session == nil {
		return nil, fmt.Errorf("empty access token in refresh response")
	}

	p.setSession(session)
	p.emit(model.SessionEvent{Type: model.SessionTokenRefreshed, UserID: session.UserID})

	copied := *session
	return &copied, nil
}

// refreshLoop は有効期限が近づいたトークンをバックグラウンドで更新する。
// 更新に失敗してセッションが無効になった場合はSIGNED_OUTイベントを配送する。
func (p *HTTPProvider) refreshLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			session := p.session
			p.mu.Unlock()

			if session == nil {
				continue
			}
			if time.Until(session.ExpiresAt) > p.config.RefreshMargin {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
			_, err := p.refresh(ctx, session.RefreshToken)
			cancel()

			if err != nil {
				// リフレッシュトークンが失効している場合はセッション終了として扱う
				if apiErr := classifyAPIError(err); apiErr != nil && apiErr.Category == "auth" {
					p.clearSession()
					p.emit(model.SessionEvent{Type: model.SessionSignedOut, UserID: session.UserID})
				}
			}
		}
	}
}

// dispatchLoop はイベントを購読者へ直列に配送する。
// 配送は常にこのゴルーチンからのみ行われるため、購読者側の処理は直列化される。
func (p *HTTPProvider) dispatchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case ev := <-p.events:
			p.subMu.Lock()
			fns := make([]func(model.SessionEvent), 0, len(p.subs))
			for _, fn := range p.subs {
				fns = append(fns, fn)
			}
			p.subMu.Unlock()

			for _, fn := range fns {
				fn(ev)
			}
		}
	}
}

func (p *HTTPProvider) emit(ev model.SessionEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *HTTPProvider) setSession(session *model.ProviderSession) {
	p.mu.Lock()
	p.session = session
	p.mu.Unlock()
}

func (p *HTTPProvider) clearSession() {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
}

// --- HTTPリクエスト ---

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

func (r *tokenResponse) toSession() *model.ProviderSession {
	if r.AccessToken == "" {
		return nil
	}
	return &model.ProviderSession{
		UserID:       r.User.ID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(r.ExpiresIn) * time.Second),
	}
}

// signUpResponse はサインアップエンドポイントのレスポンス。
// メール確認が不要な設定ではトークンフィールドも含まれる。
type signUpResponse struct {
	ID   string `json:"id"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// providerErrorResponse はプロバイダーのエラーレスポンス。
// 実装によってフィールド名が揺れるため複数を受ける。
type providerErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (r *providerErrorResponse) text() string {
	for _, s := range []string{r.ErrorDescription, r.Msg, r.Message, r.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// post はJSONボディでPOSTリクエストを送り、レスポンスをoutにデコードする。
// bearerが空の場合はAuthorizationヘッダーを付けない。outがnilの場合はボディを読み捨てる。
func (p *HTTPProvider) post(ctx context.Context, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("apikey", p.config.APIKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return classifyProviderError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse provider response: %w", err)
		}
	}

	return nil
}

// classifyProviderError はプロバイダーのエラーレスポンスを分類し*model.APIErrorを返す。
// 分類できない4xxはメッセージをそのまま伝え、5xxはPROVIDER_UNAVAILABLEとする。
func classifyProviderError(statusCode int, body []byte) error {
	var errResp providerErrorResponse
	_ = json.Unmarshal(body, &errResp)
	text := errResp.text()
	lower := strings.ToLower(text + " " + errResp.ErrorCode)

	if statusCode >= 500 {
		return model.NewProviderUnavailableError()
	}

	switch {
	case strings.Contains(lower, "invalid login credentials"),
		strings.Contains(lower, "invalid_grant"),
		strings.Contains(lower, "invalid_credentials"):
		return model.NewInvalidCredentialsError()
	case strings.Contains(lower, "already registered"),
		strings.Contains(lower, "already exists"),
		strings.Contains(lower, "user_already_exists"):
		return model.NewDuplicateAccountError()
	case strings.Contains(lower, "password"):
		return model.NewWeakPasswordError(text)
	}

	if text == "" {
		text = fmt.Sprintf("provider returned status %d", statusCode)
	}
	return &model.APIError{
		Code:     "PROVIDER_REJECTED",
		Message:  text,
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// classifyAPIError はエラーが*model.APIErrorであればそれを返す。
func classifyAPIError(err error) *model.APIError {
	if apiErr, ok := err.(*model.APIError); ok {
		return apiErr
	}
	return nil
}

// compile-time interface check
var _ Provider = (*HTTPProvider)(nil)
