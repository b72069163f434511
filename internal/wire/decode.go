package wire

// DecodePromise reinterprets a decoded Frame as a Promise request. The
// caller must have already checked Frame.Type() == TypePromise.
func DecodePromise(f Frame) (Promise, error) {
	id, err := idFrom(f.Header)
	if err != nil {
		return Promise{}, err
	}
	channelName, err := stringAt(f.Header, 2)
	if err != nil {
		return Promise{}, err
	}
	name, err := stringAt(f.Header, 3)
	if err != nil {
		return Promise{}, err
	}
	return Promise{ID: id, ChannelName: channelName, Name: name, Arg: f.Body}, nil
}

// DecodePromiseCancel reinterprets a decoded Frame as a PromiseCancel.
func DecodePromiseCancel(f Frame) (PromiseCancel, error) {
	id, err := idFrom(f.Header)
	if err != nil {
		return PromiseCancel{}, err
	}
	return PromiseCancel{ID: id}, nil
}

// DecodeEventListen reinterprets a decoded Frame as an EventListen.
func DecodeEventListen(f Frame) (EventListen, error) {
	id, err := idFrom(f.Header)
	if err != nil {
		return EventListen{}, err
	}
	channelName, err := stringAt(f.Header, 2)
	if err != nil {
		return EventListen{}, err
	}
	name, err := stringAt(f.Header, 3)
	if err != nil {
		return EventListen{}, err
	}
	return EventListen{ID: id, ChannelName: channelName, Name: name, Arg: f.Body}, nil
}

// DecodeEventDispose reinterprets a decoded Frame as an EventDispose.
func DecodeEventDispose(f Frame) (EventDispose, error) {
	id, err := idFrom(f.Header)
	if err != nil {
		return EventDispose{}, err
	}
	return EventDispose{ID: id}, nil
}

// DecodePromiseSuccess reinterprets a decoded Frame as a PromiseSuccess.
func DecodePromiseSuccess(f Frame) (PromiseSuccess, error) {
	id, err := idFrom(f.Header)
	if err != nil {
		return PromiseSuccess{}, err
	}
	return PromiseSuccess{ID: id, Data: f.Body}, nil
}

// DecodePromiseErrorFrame reinterprets a decoded Frame as a PromiseError,
// normalizing the stack representation.
func DecodePromiseErrorFrame(f Frame) (PromiseError, error) {
	id, err := idFrom(f.Header)
	if err != nil {
		return PromiseError{}, err
	}
	se, err := DecodeStructuredError(f.Body)
	if err != nil {
		return PromiseError{}, err
	}
	return PromiseError{ID: id, Err: se}, nil
}

// DecodePromiseErrorObj reinterprets a decoded Frame as a PromiseErrorObj.
func DecodePromiseErrorObj(f Frame) (PromiseErrorObj, error) {
	id, err := idFrom(f.Header)
	if err != nil {
		return PromiseErrorObj{}, err
	}
	return PromiseErrorObj{ID: id, Data: f.Body}, nil
}

// DecodeEventFire reinterprets a decoded Frame as an EventFire.
func DecodeEventFire(f Frame) (EventFire, error) {
	id, err := idFrom(f.Header)
	if err != nil {
		return EventFire{}, err
	}
	return EventFire{ID: id, Data: f.Body}, nil
}
