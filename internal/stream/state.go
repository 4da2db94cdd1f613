// Package stream は1つの論理的な記事ストリームのビューを駆動する。
// 初回読み込み、追加読み込み、楽観的ステータス変更、そして
// フィルタ切り替え時の読み込みキャンセルを管理する。
package stream

// LoadingState は読み込みの状態機械の状態を表す。
// INITIAL → LOADING → {SUCCESS, FAILURE} と遷移し、
// SUCCESS/FAILUREから次のフェッチで再びLOADINGへ入る。
type LoadingState string

const (
	// LoadingStateInitial は未読み込みの初期状態。
	LoadingStateInitial LoadingState = "INITIAL"
	// LoadingStateLoading は読み込み実行中の状態。
	LoadingStateLoading LoadingState = "LOADING"
	// LoadingStateSuccess は読み込み成功の状態。
	LoadingStateSuccess LoadingState = "SUCCESS"
	// LoadingStateFailure は読み込み失敗の状態。リトライはユーザー操作で行う。
	LoadingStateFailure LoadingState = "FAILURE"
)
