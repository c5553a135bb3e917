package types

// Device wire protocol (newline-terminated UTF-8 frames over BLE serial)
//
// Device -> App:
//   DEVICE_READY                // sent once after connect
//   SCORE_UPDATE: <n>           // score delta
//   HIT_<SENSOR>_SCORE_<n>      // sensor hit, n is the device's running total
//   {"score": n, "sensor": s}   // structured variant of a hit frame
//   BUTTON_PRESS
//   GAME_STARTED | GAME_STOPPED | GAME_RESET
//   BATTLE_MODE_READY
//   STATUS_SCORE_<n>_<state>    // reply to GET_STATUS
//
// App -> Device (commands are upper-cased on encode):
//   START_GAME
//   STOP_GAME
//   RESET_GAME
//   BATTLE_MODE
//   SOLO_MODE
//   GET_STATUS
//
// Anything unrecognized decodes as a raw token frame and is passed through.
