//go:build darwin

package main

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Cocoa

#import <Cocoa/Cocoa.h>

static NSWindow *overaiMainWindow(void) {
	Class wailsWindow = NSClassFromString(@"WailsWindow");
	if (wailsWindow == nil) {
		return nil;
	}
	for (NSWindow *w in [NSApp windows]) {
		if ([w isKindOfClass:wailsWindow]) {
			return w;
		}
	}
	return nil;
}

static void overaiPresentWindow(bool onTop) {
	dispatch_async(dispatch_get_main_queue(), ^{
		NSWindow *w = overaiMainWindow();
		if (w == nil) {
			return;
		}
		[w setLevel:(onTop ? NSFloatingWindowLevel : NSNormalWindowLevel)];
		[w setCollectionBehavior:[w collectionBehavior] |
			NSWindowCollectionBehaviorCanJoinAllSpaces |
			NSWindowCollectionBehaviorFullScreenAuxiliary];
		[w orderFrontRegardless];
	});
}

static void overaiUseAccessoryPolicy(void) {
	dispatch_async(dispatch_get_main_queue(), ^{
		[NSApp setActivationPolicy:NSApplicationActivationPolicyAccessory];
	});
}
*/
import "C"

import "context"

// presentWindow orders the main window front without activating the app, so
// the frontmost app keeps keyboard focus until the user clicks the overlay.
// runtime.WindowShow would call activateIgnoringOtherApps.
func presentWindow(_ context.Context, onTop bool) {
	C.overaiPresentWindow(C.bool(onTop))
}

// useAccessoryPolicy drops the Dock icon and app menu. Wails switches the
// app to the regular policy at launch, overriding LSUIElement.
func useAccessoryPolicy() {
	C.overaiUseAccessoryPolicy()
}
