package session

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/speech"
)

const (
	slashCommandStartDescription      = "ボイスチャンネルの文字起こしを開始します。"
	slashCommandStartLocaleOption     = "locale"
	slashCommandStartLocaleDesc       = "認識する言語 (例: ja-JP, en-US)"
	slashCommandStopDescription       = "文字起こしを中止します。"
	slashCommandPermissionDescription = "音声認識の利用許可をリクエストします。"
	slashCommandConsentDescription    = "音声認識の利用許可リクエストに回答します。"
	slashCommandConsentDecisionOption = "decision"
	slashCommandConsentDecisionDesc   = "許可する (allow) か拒否する (deny) か"
	slashCommandStatusDescription     = "文字起こしの状態を表示します。"

	consentDecisionAllow = "allow"
	consentDecisionDeny  = "deny"

	messageEphemeralWrongGuild         = ":warning: **このサーバーでは実行できません。**"
	messageEphemeralUnknownCommand     = ":warning: **不明なコマンドです。**"
	messageEphemeralVoiceLookupFailed  = ":warning: **ボイスチャンネルの参加状態の確認に失敗しました。**"
	messageEphemeralJoinVCFirst        = ":warning: **対象のボイスチャンネルに参加してから実行してください。**"
	messageEphemeralPermissionRequired = ":warning: **音声認識が許可されていません。** /kikitori-permission で許可をリクエストしてください。"
	messageEphemeralNotRunning         = ":warning: **現在文字起こしは実行されていません。**"
	messageEphemeralConsentUnavailable = ":warning: **このサーバーでは利用許可を変更できません。**"
	messageEphemeralConsentInvalid     = ":warning: **allow または deny を指定してください。**"
	messageEphemeralConsentFailed      = ":warning: **利用許可の記録に失敗しました。**"
	messageEphemeralAlreadyPermitted   = ":white_check_mark: **音声認識は既に許可されています。**"
	messageEphemeralPermissionPending  = ":hourglass: **音声認識の利用許可をリクエストしました。** /kikitori-consent で回答できます。"
	messageEphemeralStop               = ":pause_button:  **文字起こしを中止しました。**"
	messageEphemeralConsentAllowed     = ":white_check_mark: **音声認識を許可しました。**"
	messageEphemeralConsentDenied      = ":no_entry: **音声認識を拒否しました。**"
	messagePoweredByLine               = "-# *Powered by [Kikitori](https://github.com/foxseedlab/kikitori)*"

	messageConsentPrompt          = ":raised_hand: **音声認識の利用許可がリクエストされました。** /kikitori-consent decision:allow で許可、decision:deny で拒否できます。"
	messagePermissionGranted      = ":white_check_mark: **音声認識が許可されました。** /kikitori-start で開始できます。"
	messagePermissionDeniedFormat = ":no_entry: **音声認識は許可されませんでした。** (%s)"

	messageChannelStartedFormat = ":microphone2: **文字起こしを開始しました。** (%s)\n-# /kikitori-stop コマンドで中止できます。"
	messageChannelStopped       = ":pause_button:  **文字起こしを終了しました。**\n-# /kikitori-start コマンドで再度開始できます。"
	messageChannelFailedFormat  = ":warning: **文字起こしが異常終了しました。** %s\n-# /kikitori-start コマンドで再度開始できます。"
	messageChannelParticipants  = ":wave: ボイスチャットに誰もいなくなったため、文字起こしを中止します。"

	messageEphemeralStartFormat       = ":microphone2: **文字起こしを開始します。** (%s)"
	messageEphemeralInvalidLocale     = ":warning: **言語の指定が正しくありません。** %q"
	messageEphemeralStatusFormat      = ":information_source: **状態:** %s"
	messageEphemeralStatusLocale      = "\n-# セッション %s (%s)"
)

func startEphemeral(locale speech.Locale) string {
	return fmt.Sprintf(messageEphemeralStartFormat, locale)
}

func invalidLocaleEphemeral(value string) string {
	return fmt.Sprintf(messageEphemeralInvalidLocale, value)
}

func permissionDeniedMessage(reason string) string {
	return fmt.Sprintf(messagePermissionDeniedFormat, reason)
}

func startedChannelMessage(locale speech.Locale) string {
	return fmt.Sprintf(messageChannelStartedFormat, locale)
}

func failedChannelMessage(err *speech.Error) string {
	return fmt.Sprintf(messageChannelFailedFormat, failureDetail(err))
}

func failureDetail(err *speech.Error) string {
	if err == nil {
		return "不明なエラーが発生しました。"
	}
	switch err.Kind {
	case speech.KindRecognizerUnavailable:
		return fmt.Sprintf("言語 %s には対応していません。", err.Locale)
	case speech.KindCaptureFailure:
		return "音声の取得に失敗しました。"
	case speech.KindRecognitionFailure:
		return "音声認識サービスでエラーが発生しました。"
	case speech.KindPermissionDenied:
		return "音声認識が許可されていません。"
	default:
		return "不明なエラーが発生しました。"
	}
}

func statusEphemeral(s State, sessionID string, locale speech.Locale, active bool) string {
	msg := fmt.Sprintf(messageEphemeralStatusFormat, s.String())
	if active {
		msg += fmt.Sprintf(messageEphemeralStatusLocale, sessionID, locale)
	}
	return msg
}
