package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const toastDuration = 1500 * time.Millisecond

// toastScript injects a transient pill at the top of the page. The page may
// be a third-party site, so the element carries its own inline style.
const toastScript = `(function(msg,ms){
var id='overai-toast';
var old=document.getElementById(id);
if(old){old.remove();}
var el=document.createElement('div');
el.id=id;
el.textContent=msg;
el.style.cssText='position:fixed;top:14px;left:50%%;transform:translateX(-50%%);z-index:2147483647;'+
'padding:6px 14px;border-radius:14px;background:rgba(28,28,30,0.92);color:#fff;'+
'font:13px -apple-system,BlinkMacSystemFont,sans-serif;pointer-events:none;transition:opacity .3s;';
(document.body||document.documentElement).appendChild(el);
setTimeout(function(){el.style.opacity='0';setTimeout(function(){el.remove();},300);},ms);
})(%s,%d);`

// showToast displays message in the web view. Best effort.
func (a *App) showToast(message string) {
	quoted, err := json.Marshal(message)
	if err != nil {
		return
	}
	script := fmt.Sprintf(toastScript, quoted, toastDuration.Milliseconds())
	if err := a.execJS(script); err != nil {
		slog.Debug("[DEBUG-window] toast dropped", "message", message, "error", err)
	}
}
