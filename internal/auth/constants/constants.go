package constants

const (
	// DriveFileScope lets the bot create and manage the Drive files it owns
	DriveFileScope = "https://www.googleapis.com/auth/drive.file"

	// GoogleAuthURL is the v2 consent screen
	GoogleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

	GoogleTokenURL = "https://oauth2.googleapis.com/token"

	// SessionUserIDKey is the session entry carrying the caller-supplied user id to the callback
	SessionUserIDKey = "user_id"

	// UserIDParam is the route parameter of the authorize endpoint
	UserIDParam = "user_id"

	// CodeQueryParam is the query parameter Google uses to return the authorization code
	CodeQueryParam = "code"

	// ErrorQueryParam is set by Google instead of code when consent is refused
	ErrorQueryParam = "error"
)

// Route paths
const (
	IndexPath     = "/"
	AuthorizePath = "/authorize/{" + UserIDParam + "}"
	CallbackPath  = "/oauth2callback"
)

// User-facing messages. The relay is used by Portuguese-speaking WhatsApp users.
const (
	MsgIndex            = "Servidor de autorização para o bot do WhatsApp está funcionando."
	MsgSuccess          = "Autorização concluída com sucesso! Você já pode fechar esta janela."
	MsgCodeMissing      = "Erro: Código de autorização não encontrado."
	MsgSessionMissing   = "Erro: Sessão do usuário expirada ou não encontrada. Por favor, inicie o processo novamente."
	MsgUserIDMissing    = "Erro: ID do usuário não informado."
	MsgTokenExchange    = "Erro ao obter tokens: "
	MsgTokenPersistence = "Erro ao salvar tokens no Supabase: "
	MsgInternal         = "Erro interno: "
)
